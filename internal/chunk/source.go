package chunk

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/chunkstream/internal/observability"
)

// queueSizeEvalInterval is the minimum wall-clock time between retention
// checks against Source.PreferredQueueSize.
const queueSizeEvalInterval = 5000 * time.Millisecond

// ErrTooManySelections is returned when SelectTracks is passed more than
// one old stream or new selection; a SampleSource serves a single track.
var ErrTooManySelections = errors.New("at most one track selection is supported")

// ErrSelectionState is returned when a SelectTracks call does not match the
// current enablement state.
var ErrSelectionState = errors.New("track selection does not match enablement state")

// SampleSourceConfig configures a SampleSource.
type SampleSourceConfig struct {
	// Source provides the chunks to load.
	Source Source
	// LoadControl arbitrates buffer memory and load permission.
	LoadControl LoadControl
	// Loader executes fetches.
	Loader Loader
	// SampleQueue stores the demultiplexed samples.
	SampleQueue SampleQueue
	// BufferContribution is this track's share of the shared buffer pool,
	// in bytes.
	BufferContribution int64
	// Events receives telemetry. May be nil.
	Events EventListener
	// Logger is used for diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// SampleSource buffers and loads media for one elementary track. It keeps a
// forward window of chunks obtained from a Source, schedules at most one
// fetch at a time through its Loader, and serves samples downstream via the
// TrackStream contract.
//
// All methods, including the LoaderCallback methods the Loader invokes,
// must run on a single control goroutine. The Loader provides that
// guarantee by posting its callbacks onto the control run loop.
type SampleSource struct {
	id          uuid.UUID
	source      Source
	loadControl LoadControl
	loader      Loader
	sampleQueue SampleQueue
	events      eventDispatcher
	logger      *slog.Logger

	bufferContribution int64

	window window
	holder Holder

	trackGroups  []TrackGroup
	trackEnabled bool

	notifyReset          bool
	downstreamFormat     Format
	hasDownstreamFormat  bool
	downstreamPositionUs int64
	lastSeekPositionUs   int64
	pendingReset         Timestamp

	currentLoadable  *Chunk
	currentLoadStart time.Time
	loadingFinished  bool

	lastQueueSizeEval time.Time
	now               func() time.Time
}

// NewSampleSource creates a SampleSource. Source, LoadControl, Loader and
// SampleQueue are required.
func NewSampleSource(cfg SampleSourceConfig) *SampleSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &SampleSource{
		id:                 id,
		source:             cfg.Source,
		loadControl:        cfg.LoadControl,
		loader:             cfg.Loader,
		sampleQueue:        cfg.SampleQueue,
		events:             eventDispatcher{listener: cfg.Events, sourceID: id},
		logger:             observability.WithComponent(logger, "sample-source").With(slog.String("source_id", id.String())),
		bufferContribution: cfg.BufferContribution,
		pendingReset:       UnsetTime(),
		now:                time.Now,
	}
}

// ID returns the identity attached to this source's telemetry.
func (s *SampleSource) ID() uuid.UUID {
	return s.id
}

// Prepare queries the Source for its track description and builds the
// externally visible track groups.
func (s *SampleSource) Prepare() {
	if formats := s.source.Tracks(); formats != nil {
		s.trackGroups = []TrackGroup{{Formats: formats}}
	} else {
		s.trackGroups = []TrackGroup{}
	}
}

// TrackGroups returns the track groups built by Prepare.
func (s *SampleSource) TrackGroups() []TrackGroup {
	return s.trackGroups
}

// SelectTracks atomically disables the old selection (if any) and enables
// the new one (if any), restarting buffering from positionUs when a track
// ends up enabled. It returns the streams serving the new selections.
func (s *SampleSource) SelectTracks(oldStreams []TrackStream, newSelections []TrackSelection, positionUs int64) ([]TrackStream, error) {
	if len(oldStreams) > 1 || len(newSelections) > 1 {
		return nil, ErrTooManySelections
	}
	wasEnabled := s.trackEnabled
	if len(oldStreams) > 0 {
		if !s.trackEnabled {
			return nil, ErrSelectionState
		}
		s.trackEnabled = false
		s.source.Disable()
	}
	streams := make([]TrackStream, len(newSelections))
	if len(newSelections) > 0 {
		if s.trackEnabled {
			return nil, ErrSelectionState
		}
		s.trackEnabled = true
		s.source.Enable(newSelections[0])
		streams[0] = s
	}
	if !s.trackEnabled {
		s.logger.Debug("track disabled")
		if wasEnabled {
			s.loadControl.Unregister(s)
		}
		if s.loader.IsLoading() {
			s.loader.CancelLoading()
		} else {
			s.clearState()
			s.loadControl.TrimAllocator()
		}
	} else {
		s.logger.Debug("track enabled", slog.Int64("position_us", positionUs))
		if !wasEnabled {
			s.loadControl.Register(s, s.bufferContribution)
		}
		s.hasDownstreamFormat = false
		s.sampleQueue.NeedDownstreamFormat()
		s.downstreamPositionUs = positionUs
		s.lastSeekPositionUs = positionUs
		s.notifyReset = false
		s.restartFrom(TimeUs(positionUs))
	}
	return streams, nil
}

// ContinueBuffering advances the downstream playback position and gives the
// scheduler a fetch opportunity. Calling it while a fetch is in flight only
// records the position.
func (s *SampleSource) ContinueBuffering(positionUs int64) {
	s.downstreamPositionUs = positionUs
	if !s.loader.IsLoading() {
		s.maybeStartLoading()
	}
}

// SeekTo moves playback to positionUs. If the sample queue can rewind to a
// keyframe at or before the position the buffered window is kept, trimmed
// of fully superseded leading chunks; otherwise buffering restarts from the
// position. Either way one discontinuity notification is armed.
func (s *SampleSource) SeekTo(positionUs int64) {
	s.downstreamPositionUs = positionUs
	s.lastSeekPositionUs = positionUs
	seekInsideBuffer := !s.pendingReset.IsSet() && s.sampleQueue.SkipToKeyframeBefore(positionUs)
	if seekInsideBuffer {
		s.window.trimConsumed(s.sampleQueue.ReadIndex())
	} else {
		s.restartFrom(TimeUs(positionUs))
	}
	s.notifyReset = true
}

// BufferedPosition returns how far ahead of the playback position data is
// buffered. endOfSource is true once loading has finished. While a reset is
// pending the reset target is reported. The still-loading tail chunk does
// not count as buffered; only the sample queue's actual content and the
// last fully completed chunk do.
func (s *SampleSource) BufferedPosition() (positionUs int64, endOfSource bool) {
	if s.loadingFinished {
		return 0, true
	}
	if s.pendingReset.IsSet() {
		return s.pendingReset.Us(), false
	}
	pos := s.downstreamPositionUs
	if !s.window.isEmpty() {
		last := s.window.last()
		var lastCompleted *Chunk
		switch {
		case last != s.currentLoadable:
			lastCompleted = last
		case s.window.len() > 1:
			lastCompleted = s.window.at(s.window.len() - 2)
		}
		if lastCompleted != nil && lastCompleted.Media().EndTimeUs > pos {
			pos = lastCompleted.Media().EndTimeUs
		}
	}
	if ts := s.sampleQueue.LargestQueuedTimestampUs(); ts > pos {
		pos = ts
	}
	return pos, false
}

// Release unregisters from the load control and releases the loader.
func (s *SampleSource) Release() {
	if s.trackEnabled {
		s.loadControl.Unregister(s)
		s.trackEnabled = false
	}
	s.loader.Release()
}

// TrackStream implementation.

// IsReady implements TrackStream.
func (s *SampleSource) IsReady() bool {
	return s.loadingFinished || (!s.pendingReset.IsSet() && !s.sampleQueue.IsEmpty())
}

// MaybeThrowError implements TrackStream.
func (s *SampleSource) MaybeThrowError() error {
	if err := s.loader.MaybeThrowError(); err != nil {
		return err
	}
	return s.source.MaybeThrowError()
}

// ReadReset implements TrackStream.
func (s *SampleSource) ReadReset() (int64, bool) {
	if s.notifyReset {
		s.notifyReset = false
		return s.lastSeekPositionUs, true
	}
	return 0, false
}

// ReadData implements TrackStream.
func (s *SampleSource) ReadData(f *FormatHolder, sh *SampleHolder) ReadResult {
	if s.notifyReset || s.pendingReset.IsSet() {
		return ReadNothing
	}
	s.window.trimConsumed(s.sampleQueue.ReadIndex())
	if s.window.isEmpty() {
		return ReadNothing
	}
	current := s.window.first()
	if !s.hasDownstreamFormat || s.downstreamFormat != current.Format {
		s.events.downstreamFormatChanged(current.Format, current.Trigger, current.Media().StartTimeUs)
		s.downstreamFormat = current.Format
		s.hasDownstreamFormat = true
	}
	result := s.sampleQueue.Read(f, sh, s.loadingFinished, s.lastSeekPositionUs)
	if result == ReadFormat {
		f.DRMInitData = current.Media().DRMInitData
	}
	return result
}

// LoaderCallback implementation.

// OnLoadCompleted implements LoaderCallback.
func (s *SampleSource) OnLoadCompleted(c *Chunk) {
	loadDuration := s.now().Sub(s.currentLoadStart)
	s.source.OnChunkLoadCompleted(c)
	if c.IsMedia() {
		m := c.Media()
		s.events.loadCompleted(c.BytesLoaded(), c.Type, c.Trigger, c.Format,
			TimeUs(m.StartTimeUs), TimeUs(m.EndTimeUs), loadDuration)
	} else {
		s.events.loadCompleted(c.BytesLoaded(), c.Type, c.Trigger, c.Format,
			UnsetTime(), UnsetTime(), loadDuration)
	}
	s.clearCurrentLoadable()
	s.maybeStartLoading()
}

// OnLoadCanceled implements LoaderCallback.
func (s *SampleSource) OnLoadCanceled(c *Chunk) {
	s.events.loadCanceled(c.BytesLoaded())
	if s.trackEnabled {
		s.restartFrom(s.pendingReset)
	} else {
		// Cancellation during teardown must not resume fetching.
		s.clearState()
		s.loadControl.TrimAllocator()
	}
}

// OnLoadError implements LoaderCallback.
func (s *SampleSource) OnLoadError(c *Chunk, err error) ErrorAction {
	bytesLoaded := c.BytesLoaded()
	isMedia := c.IsMedia()
	cancelable := !isMedia || bytesLoaded == 0 || s.window.len() > 1
	if s.source.OnChunkLoadError(c, cancelable, err) {
		if isMedia {
			removed := s.window.removeLast()
			s.sampleQueue.DiscardUpstreamFrom(removed.Media().FirstSampleIndex())
			if s.window.isEmpty() {
				s.pendingReset = TimeUs(s.lastSeekPositionUs)
			}
		}
		s.clearCurrentLoadable()
		s.events.loadError(err)
		s.events.loadCanceled(bytesLoaded)
		s.maybeStartLoading()
		return ActionDontRetry
	}
	s.events.loadError(err)
	return ActionRetry
}

// Internal methods.

// restartFrom arms a pending reset at the target position. A fetch in
// flight is canceled cooperatively; the cancellation callback re-enters
// this routine. With no fetch active the buffered state is cleared
// synchronously and the scheduler re-invoked.
func (s *SampleSource) restartFrom(position Timestamp) {
	s.pendingReset = position
	s.loadingFinished = false
	if s.loader.IsLoading() {
		s.loader.CancelLoading()
	} else {
		s.clearState()
		s.maybeStartLoading()
	}
}

func (s *SampleSource) clearState() {
	s.sampleQueue.Clear()
	s.window.clear()
	s.clearCurrentLoadable()
}

func (s *SampleSource) clearCurrentLoadable() {
	s.currentLoadable = nil
}

// maybeStartLoading is the load scheduler: it runs the throttled retention
// check, consults the load control, asks the Source for the next chunk, and
// starts the fetch.
func (s *SampleSource) maybeStartLoading() {
	now := s.now()
	if now.Sub(s.lastQueueSizeEval) > queueSizeEvalInterval {
		queueSize := s.source.PreferredQueueSize(s.downstreamPositionUs, s.window.buffered())
		// Never discard the first chunk.
		s.discardUpstreamChunks(max(1, queueSize))
		s.lastQueueSizeEval = now
	}

	if !s.loadControl.Update(s, s.downstreamPositionUs, s.nextLoadPosition(), false) {
		return
	}

	var previous *Chunk
	if !s.window.isEmpty() {
		previous = s.window.last()
	}
	targetUs := s.downstreamPositionUs
	if s.pendingReset.IsSet() {
		targetUs = s.pendingReset.Us()
	}
	s.source.NextChunk(previous, targetUs, &s.holder)
	endOfStream := s.holder.EndOfStream
	next := s.holder.Chunk
	s.holder.Clear()

	if endOfStream {
		s.loadingFinished = true
		s.loadControl.Update(s, s.downstreamPositionUs, UnsetTime(), false)
		return
	}
	if next == nil {
		return
	}

	s.currentLoadStart = now
	s.currentLoadable = next
	if next.IsMedia() {
		m := next.Media()
		// The source honors the requested position, so any pending reset is
		// satisfied by this chunk.
		s.pendingReset = UnsetTime()
		m.bindWriter(s.sampleQueue)
		s.window.append(next)
		s.events.loadStarted(next.Spec.Length, next.Type, next.Trigger, next.Format,
			TimeUs(m.StartTimeUs), TimeUs(m.EndTimeUs))
	} else {
		s.events.loadStarted(next.Spec.Length, next.Type, next.Trigger, next.Format,
			UnsetTime(), UnsetTime())
	}
	s.loader.StartLoading(next, s)
	// Update the load control again to indicate that loading is active.
	s.loadControl.Update(s, s.downstreamPositionUs, s.nextLoadPosition(), true)
}

// nextLoadPosition assumes fetches are contiguous: the next load starts
// where the last buffered chunk ends, or at the pending reset target.
// It is unset once loading has finished.
func (s *SampleSource) nextLoadPosition() Timestamp {
	if s.pendingReset.IsSet() {
		return s.pendingReset
	}
	if s.loadingFinished {
		return UnsetTime()
	}
	if s.window.isEmpty() {
		return TimeUs(s.downstreamPositionUs)
	}
	return TimeUs(s.window.last().Media().EndTimeUs)
}

// discardUpstreamChunks removes trailing chunks until the window length is
// at most queueLength, discarding the matching sample-queue suffix and
// reporting the discarded time range. Reports whether anything was
// discarded.
func (s *SampleSource) discardUpstreamChunks(queueLength int) bool {
	if s.window.len() <= queueLength {
		return false
	}
	endTimeUs := s.window.last().Media().EndTimeUs
	var removed *Chunk
	for s.window.len() > queueLength {
		removed = s.window.removeLast()
		s.loadingFinished = false
	}
	startTimeUs := removed.Media().StartTimeUs
	s.sampleQueue.DiscardUpstreamFrom(removed.Media().FirstSampleIndex())
	s.events.upstreamDiscarded(startTimeUs, endTimeUs)
	return true
}
