package chunk

// ReadResult is the outcome of a read from a TrackStream or SampleQueue.
type ReadResult int

const (
	// ReadNothing indicates no data was read.
	ReadNothing ReadResult = iota
	// ReadFormat indicates a format record was read into the FormatHolder.
	ReadFormat
	// ReadSample indicates a sample was read into the SampleHolder.
	ReadSample
	// ReadEndOfStream indicates the end of the stream has been reached.
	ReadEndOfStream
)

func (r ReadResult) String() string {
	switch r {
	case ReadFormat:
		return "format"
	case ReadSample:
		return "sample"
	case ReadEndOfStream:
		return "end-of-stream"
	default:
		return "nothing"
	}
}

// ErrorAction is a LoaderCallback's verdict on a failed load attempt.
type ErrorAction int

const (
	// ActionRetry asks the loader to retry the current load.
	ActionRetry ErrorAction = iota
	// ActionDontRetry asks the loader to abandon the current load without
	// recording a fatal error.
	ActionDontRetry
)

// Sample is one access unit written upstream into a sample queue.
type Sample struct {
	// TimeUs is the presentation timestamp in microseconds.
	TimeUs int64
	// Keyframe indicates the sample can be decoded without prior samples.
	Keyframe bool
	// Data is the encoded payload.
	Data []byte
}

// FormatHolder receives a format record from a read.
type FormatHolder struct {
	Format Format
	// DRMInitData is the opaque DRM payload of the chunk the format came
	// from, or nil.
	DRMInitData []byte
}

// SampleHolder receives a sample from a read.
type SampleHolder struct {
	TimeUs   int64
	Keyframe bool
	Data     []byte
	// DecodeOnly marks a sample before the current seek position: it must
	// be decoded to establish reference state but never rendered.
	DecodeOnly bool
}

// TrackGroup describes the selectable formats this source exposes.
type TrackGroup struct {
	Formats []Format
}

// TrackSelection selects tracks within a source's single track group.
type TrackSelection struct {
	// Tracks are indices into the group's Formats.
	Tracks []int
}

// TrackStream is the read-side contract consumed downstream of a
// SampleSource.
type TrackStream interface {
	// IsReady reports whether a read would produce data: true once loading
	// has finished, or once buffered samples exist and no reset is pending.
	IsReady() bool
	// MaybeThrowError surfaces a persistent fault recorded by the loader or
	// the chunk source. Recoverable errors are never reported here.
	MaybeThrowError() error
	// ReadData reads a format record or sample. It returns ReadNothing
	// while a discontinuity is armed or a reset is pending.
	ReadData(f *FormatHolder, s *SampleHolder) ReadResult
	// ReadReset is one-shot: if a discontinuity is armed it clears the flag
	// and returns the last seek position with ok true.
	ReadReset() (positionUs int64, ok bool)
}

// Holder receives the outcome of a Source.NextChunk call: exactly one of
// Chunk or EndOfStream is set, or neither when the source has nothing yet.
type Holder struct {
	Chunk       *Chunk
	EndOfStream bool
}

// Clear resets the holder for reuse.
func (h *Holder) Clear() {
	h.Chunk = nil
	h.EndOfStream = false
}

// Source provides the chunks a SampleSource loads. It owns format/segment
// selection; the SampleSource owns buffering, scheduling, and recovery.
type Source interface {
	// Tracks returns the formats this source can produce, or nil if the
	// source exposes no track.
	Tracks() []Format
	// Enable prepares the source to serve the given selection.
	Enable(sel TrackSelection)
	// Disable releases any per-selection state.
	Disable()
	// NextChunk writes the next chunk to load into out, given the last
	// buffered media chunk (nil if none) and the target time. It may set
	// out.EndOfStream instead, or leave out empty to signal it has nothing
	// to hand out yet.
	NextChunk(previous *Chunk, targetTimeUs int64, out *Holder)
	// PreferredQueueSize returns how many buffered chunks the source would
	// like retained, given the playback position.
	PreferredQueueSize(playbackPositionUs int64, buffered []*Chunk) int
	// OnChunkLoadCompleted notifies the source that a chunk load finished.
	OnChunkLoadCompleted(c *Chunk)
	// OnChunkLoadError reports a failed load. cancelable indicates whether
	// the SampleSource can absorb the failure by dropping the chunk; the
	// source returns true to accept cancellation or false to request a
	// retry.
	OnChunkLoadError(c *Chunk, cancelable bool, err error) bool
	// MaybeThrowError surfaces a persistent source-level fault.
	MaybeThrowError() error
}

// Allocator is the shared buffer-memory pool handle exposed by a
// LoadControl. The buffering core registers usage through it but never
// owns pool memory directly.
type Allocator interface {
	// Allocate returns a buffer of at least size bytes, counting it
	// against the pool.
	Allocate(size int) []byte
	// Release returns previously allocated bytes to the pool.
	Release(n int)
	// AllocatedBytes returns the bytes currently drawn from the pool.
	AllocatedBytes() int64
}

// LoadControl arbitrates buffer memory and load permission across the
// tracks sharing a playback session.
type LoadControl interface {
	// Register declares a client's buffer contribution in bytes.
	Register(client any, bufferContribution int64)
	// Unregister removes a client's contribution.
	Unregister(client any)
	// Update reports a client's state and returns whether the client may
	// start or continue loading. nextLoadPosition is unset when the client
	// needs no further loading.
	Update(client any, playbackPositionUs int64, nextLoadPosition Timestamp, loading bool) bool
	// TrimAllocator asks the pool to reclaim memory no longer needed.
	TrimAllocator()
	// Allocator returns the shared allocator handle.
	Allocator() Allocator
}

// LoaderCallback receives load lifecycle callbacks on the control
// goroutine, in the order the loader observed the outcomes.
type LoaderCallback interface {
	// OnLoadCompleted is invoked when a load finishes successfully.
	OnLoadCompleted(c *Chunk)
	// OnLoadCanceled is invoked once a requested cancellation takes effect.
	OnLoadCanceled(c *Chunk)
	// OnLoadError is invoked after a failed attempt; the returned action
	// tells the loader whether to retry.
	OnLoadError(c *Chunk, err error) ErrorAction
}

// Loader executes one chunk load at a time off the control goroutine and
// delivers outcomes back onto it.
type Loader interface {
	// StartLoading begins loading c. It must not be called while a load is
	// in progress.
	StartLoading(c *Chunk, cb LoaderCallback)
	// IsLoading reports whether a load is in flight.
	IsLoading() bool
	// CancelLoading requests cooperative cancellation of the current load.
	// The cancellation is confirmed via OnLoadCanceled.
	CancelLoading()
	// MaybeThrowError surfaces a fatal, retry-exhausted load error.
	MaybeThrowError() error
	// Release cancels any in-flight load and releases resources.
	Release()
}

// SampleQueue stores decoded access units between the upstream writer (the
// loading chunk) and the downstream reader.
type SampleQueue interface {
	// WriteIndex returns the absolute index the next written sample will
	// take.
	WriteIndex() int
	// WriteSample appends a sample.
	WriteSample(s Sample)
	// WriteFormat records the format of subsequently written samples.
	WriteFormat(f Format)
	// Read reads the next format record or sample. endOfStreamAllowed
	// enables ReadEndOfStream once the queue is drained; samples before
	// suppressBeforeUs are marked decode-only.
	Read(f *FormatHolder, s *SampleHolder, endOfStreamAllowed bool, suppressBeforeUs int64) ReadResult
	// DiscardUpstreamFrom drops all samples at or after the given absolute
	// index.
	DiscardUpstreamFrom(index int)
	// SkipToKeyframeBefore advances the read position to the last keyframe
	// at or before timeUs, returning false if that is not possible within
	// the buffered data.
	SkipToKeyframeBefore(timeUs int64) bool
	// Clear drops all samples and resets indices.
	Clear()
	// IsEmpty reports whether any unread samples are buffered.
	IsEmpty() bool
	// LargestQueuedTimestampUs returns the largest written timestamp, or
	// math.MinInt64 when nothing is queued.
	LargestQueuedTimestampUs() int64
	// ReadIndex returns the absolute index of the next sample to read.
	ReadIndex() int
	// NeedDownstreamFormat forces the next read to re-deliver a format
	// record.
	NeedDownstreamFormat()
}
