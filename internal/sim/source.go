// Package sim provides a synthetic chunk source and a playback driver used
// to exercise the buffering core end to end without any network I/O.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/chunkstream/internal/chunk"
	"github.com/jmylchreest/chunkstream/internal/observability"
)

// DefaultFormats are the synthetic variants a Source exposes when none are
// configured.
var DefaultFormats = []chunk.Format{
	{ID: "sim-360p", MimeType: "video/avc", Bitrate: 800_000, Width: 640, Height: 360},
	{ID: "sim-720p", MimeType: "video/avc", Bitrate: 2_400_000, Width: 1280, Height: 720},
	{ID: "sim-1080p", MimeType: "video/avc", Bitrate: 5_000_000, Width: 1920, Height: 1080},
}

// SourceConfig configures a synthetic Source.
type SourceConfig struct {
	// StreamDuration is the total media time of the stream.
	StreamDuration time.Duration
	// ChunkDuration is the media time covered by each chunk.
	ChunkDuration time.Duration
	// SamplesPerChunk is how many samples each chunk writes.
	SamplesPerChunk int
	// FailEveryN makes every Nth chunk fail its first load attempt. Zero
	// disables injected failures.
	FailEveryN int
	// InitChunk makes the source hand out a codec-initialization chunk
	// before the first media chunk.
	InitChunk bool
	// Formats are the selectable variants. Defaults to DefaultFormats.
	Formats []chunk.Format
	// Logger is used for diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Source implements chunk.Source with generated chunks: contiguous media
// chunks of fixed duration whose loads synthesize samples directly into
// the sample queue.
type Source struct {
	cfg     SourceConfig
	formats []chunk.Format
	logger  *slog.Logger

	enabled  bool
	selected []int
	initDone bool

	produced   int
	failedOnce map[int64]bool

	completedChunks int
	completedBytes  int64
}

// NewSource creates a synthetic source.
func NewSource(cfg SourceConfig) *Source {
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:        cfg,
		formats:    cfg.Formats,
		logger:     observability.WithComponent(logger, "sim-source"),
		failedOnce: make(map[int64]bool),
	}
}

// Tracks implements chunk.Source.
func (s *Source) Tracks() []chunk.Format {
	return s.formats
}

// Enable implements chunk.Source.
func (s *Source) Enable(sel chunk.TrackSelection) {
	s.enabled = true
	s.selected = sel.Tracks
	s.initDone = false
}

// Disable implements chunk.Source.
func (s *Source) Disable() {
	s.enabled = false
	s.selected = nil
}

// NextChunk implements chunk.Source. Chunks are contiguous: the next chunk
// starts where the previous one ended, or at the chunk boundary covering
// the target time.
func (s *Source) NextChunk(previous *chunk.Chunk, targetTimeUs int64, out *chunk.Holder) {
	if !s.enabled {
		return
	}
	if s.cfg.InitChunk && !s.initDone {
		format := s.formats[s.firstSelected()]
		out.Chunk = chunk.New(chunk.DataSpec{
			URI:    fmt.Sprintf("sim://%s/init", format.ID),
			Length: chunk.LengthUnset,
		}, chunk.TypeMediaInit, chunk.TriggerInitial, format,
			func(_ context.Context, c *chunk.Chunk) error {
				c.AddBytesLoaded(512)
				return nil
			})
		return
	}
	chunkUs := s.cfg.ChunkDuration.Microseconds()
	streamUs := s.cfg.StreamDuration.Microseconds()
	var startUs int64
	if previous != nil {
		startUs = previous.Media().EndTimeUs
	} else {
		startUs = (targetTimeUs / chunkUs) * chunkUs
	}
	if startUs >= streamUs {
		out.EndOfStream = true
		return
	}
	endUs := startUs + chunkUs
	if endUs > streamUs {
		endUs = streamUs
	}
	trigger := chunk.TriggerAdaptive
	if previous == nil {
		trigger = chunk.TriggerInitial
	}
	format := s.pickFormat(startUs - targetTimeUs)
	s.produced++
	spec := chunk.DataSpec{
		URI:    fmt.Sprintf("sim://%s/%d", format.ID, startUs),
		Length: chunk.LengthUnset,
	}
	out.Chunk = chunk.NewMedia(spec, trigger, format, startUs, endUs, nil, s.loadFunc(startUs, endUs))
}

// pickFormat selects among the enabled variants based on buffer depth:
// start on the lowest variant and step up one rung for every two chunk
// durations of media buffered ahead of the playback position. A crude
// stand-in for a real adaptation strategy, not part of the buffering core.
func (s *Source) pickFormat(aheadUs int64) chunk.Format {
	if len(s.selected) == 0 {
		return s.formats[0]
	}
	step := 2 * s.cfg.ChunkDuration.Microseconds()
	rung := 0
	if aheadUs > 0 && step > 0 {
		rung = int(aheadUs / step)
	}
	if rung >= len(s.selected) {
		rung = len(s.selected) - 1
	}
	return s.formats[s.selected[rung]]
}

func (s *Source) firstSelected() int {
	if len(s.selected) == 0 {
		return 0
	}
	return s.selected[0]
}

func (s *Source) loadFunc(startUs, endUs int64) chunk.LoadFunc {
	seq := s.produced
	return func(ctx context.Context, c *chunk.Chunk) error {
		if s.cfg.FailEveryN > 0 && seq%s.cfg.FailEveryN == s.cfg.FailEveryN-1 && !s.failedOnce[startUs] {
			s.failedOnce[startUs] = true
			return fmt.Errorf("injected fetch failure at %dus", startUs)
		}
		m := c.Media()
		m.WriteFormat(c.Format)
		n := s.cfg.SamplesPerChunk
		intervalUs := (endUs - startUs) / int64(n)
		sampleBytes := c.Format.Bitrate / 8 / n
		if sampleBytes < 16 {
			sampleBytes = 16
		}
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := make([]byte, sampleBytes)
			m.WriteSample(chunk.Sample{
				TimeUs:   startUs + int64(i)*intervalUs,
				Keyframe: i == 0,
				Data:     data,
			})
			c.AddBytesLoaded(int64(len(data)))
		}
		return nil
	}
}

// PreferredQueueSize implements chunk.Source: retain every chunk that
// still ends ahead of the playback position.
func (s *Source) PreferredQueueSize(playbackPositionUs int64, buffered []*chunk.Chunk) int {
	keep := 0
	for _, c := range buffered {
		if c.Media().EndTimeUs > playbackPositionUs {
			keep++
		}
	}
	return keep
}

// OnChunkLoadCompleted implements chunk.Source.
func (s *Source) OnChunkLoadCompleted(c *chunk.Chunk) {
	if !c.IsMedia() {
		s.initDone = true
	}
	s.completedChunks++
	s.completedBytes += c.BytesLoaded()
}

// OnChunkLoadError implements chunk.Source: cancellation is accepted
// whenever the buffering core can absorb it.
func (s *Source) OnChunkLoadError(c *chunk.Chunk, cancelable bool, err error) bool {
	observability.WithError(s.logger, err).Warn("chunk load error",
		slog.String("uri", c.Spec.URI),
		slog.Bool("cancelable", cancelable),
	)
	return cancelable
}

// MaybeThrowError implements chunk.Source.
func (s *Source) MaybeThrowError() error {
	return nil
}

// CompletedChunks returns how many chunk loads have completed.
func (s *Source) CompletedChunks() int {
	return s.completedChunks
}

// CompletedBytes returns the total bytes of completed chunk loads.
func (s *Source) CompletedBytes() int64 {
	return s.completedBytes
}
