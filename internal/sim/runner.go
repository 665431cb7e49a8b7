package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/chunkstream/internal/chunk"
	"github.com/jmylchreest/chunkstream/internal/loadcontrol"
	"github.com/jmylchreest/chunkstream/internal/loader"
	"github.com/jmylchreest/chunkstream/internal/runloop"
	"github.com/jmylchreest/chunkstream/internal/sampleq"
)

// RunnerConfig configures a simulated playback session.
type RunnerConfig struct {
	Source SourceConfig
	// TickInterval is how often the simulated player ticks.
	TickInterval time.Duration
	// Speed is the playback rate relative to wall time. Zero means 1.0.
	Speed float64
	// BufferContribution is the track's share of the buffer pool in bytes.
	BufferContribution int64
	// MinBuffer / MaxBuffer are the admission watermarks.
	MinBuffer time.Duration
	MaxBuffer time.Duration
	// LoaderRetries / LoaderRetryDelay configure the fetch executor.
	LoaderRetries    int
	LoaderRetryDelay time.Duration
	// SeekAt and SeekTo, when SeekAt is positive, trigger a single seek to
	// SeekTo once playback reaches SeekAt.
	SeekAt time.Duration
	SeekTo time.Duration
	// Logger is used for diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Stats summarizes a simulated playback session.
type Stats struct {
	SamplesRead     int
	FormatsRead     int
	Discontinuities int
	CompletedChunks int
	CompletedBytes  int64
	Elapsed         time.Duration
}

// Run plays the synthetic stream to end of stream, driving the buffering
// core the way a player loop would: a periodic tick advances the playback
// position, continues buffering, and reads samples at the playback rate.
// All interaction with the SampleSource happens on the control run loop.
func Run(ctx context.Context, cfg RunnerConfig) (Stats, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}

	loop := runloop.New()
	defer loop.Close()

	alloc := loadcontrol.NewAllocator()
	control := loadcontrol.New(alloc, loadcontrol.Config{
		MinBuffer: cfg.MinBuffer,
		MaxBuffer: cfg.MaxBuffer,
		Logger:    logger,
	})
	fetcher := loader.New(loop, loader.Config{
		MaxRetries: cfg.LoaderRetries,
		RetryDelay: cfg.LoaderRetryDelay,
		Logger:     logger,
	})
	src := NewSource(cfg.Source)

	source := chunk.NewSampleSource(chunk.SampleSourceConfig{
		Source:             src,
		LoadControl:        control,
		Loader:             fetcher,
		SampleQueue:        sampleq.New(alloc),
		BufferContribution: cfg.BufferContribution,
		Events:             chunk.NewLogEventListener(logger),
		Logger:             logger,
	})

	var (
		stream    chunk.TrackStream
		selectErr error
	)
	if err := loop.Do(func() {
		source.Prepare()
		var streams []chunk.TrackStream
		streams, selectErr = source.SelectTracks(nil,
			[]chunk.TrackSelection{{Tracks: trackIndices(src.Tracks())}}, 0)
		if selectErr == nil {
			stream = streams[0]
		}
	}); err != nil {
		return Stats{}, err
	}
	if selectErr != nil {
		return Stats{}, fmt.Errorf("selecting track: %w", selectErr)
	}
	defer func() {
		_ = loop.Do(func() { source.Release() })
	}()

	sampleIntervalUs := cfg.Source.ChunkDuration.Microseconds() / int64(cfg.Source.SamplesPerChunk)
	tickUs := int64(float64(cfg.TickInterval.Microseconds()) * cfg.Speed)
	samplesPerTick := int(tickUs/sampleIntervalUs) + 1

	var (
		stats      Stats
		positionUs int64
		seeked     bool
		runErr     error
		finished   bool
	)
	start := time.Now()
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	var f chunk.FormatHolder
	var sh chunk.SampleHolder
	for !finished {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-ticker.C:
		}
		if err := loop.Do(func() {
			if p, ok := stream.ReadReset(); ok {
				positionUs = p
				stats.Discontinuities++
				logger.Info("discontinuity", slog.Int64("position_us", p))
			}
			if cfg.SeekAt > 0 && !seeked && positionUs >= cfg.SeekAt.Microseconds() {
				seeked = true
				source.SeekTo(cfg.SeekTo.Microseconds())
				return
			}
			source.ContinueBuffering(positionUs)
			if runErr = stream.MaybeThrowError(); runErr != nil {
				finished = true
				return
			}
			for i := 0; i < samplesPerTick; i++ {
				switch stream.ReadData(&f, &sh) {
				case chunk.ReadFormat:
					stats.FormatsRead++
				case chunk.ReadSample:
					stats.SamplesRead++
					if sh.TimeUs > positionUs {
						positionUs = sh.TimeUs
					}
				case chunk.ReadEndOfStream:
					finished = true
					return
				case chunk.ReadNothing:
					return
				}
			}
			positionUs += tickUs
		}); err != nil {
			return stats, err
		}
	}

	stats.CompletedChunks = src.CompletedChunks()
	stats.CompletedBytes = src.CompletedBytes()
	stats.Elapsed = time.Since(start)
	if runErr != nil {
		return stats, fmt.Errorf("playback failed: %w", runErr)
	}
	logger.Info("playback finished",
		slog.Int("samples", stats.SamplesRead),
		slog.Int("formats", stats.FormatsRead),
		slog.Int("chunks", stats.CompletedChunks),
		slog.Int64("bytes", stats.CompletedBytes),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

func trackIndices(formats []chunk.Format) []int {
	out := make([]int, len(formats))
	for i := range formats {
		out[i] = i
	}
	return out
}
