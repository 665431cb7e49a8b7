package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/chunkstream/internal/config"
	"github.com/jmylchreest/chunkstream/internal/sim"
)

var (
	runSpeed  float64
	runSeekAt time.Duration
	runSeekTo time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulated playback session",
	Long: `Run a simulated playback session against a synthetic chunk source.

The session plays the configured stream to end of stream, logging load,
discard, and format-change events as the buffering core schedules work.
Use --seek-at/--seek-to to inject a seek, and sim.fail_every_n in the
configuration to inject transient fetch failures.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Duration("stream-duration", 0, "total media time of the synthetic stream")
	runCmd.Flags().Duration("chunk-duration", 0, "media time covered by each chunk")
	runCmd.Flags().Int("fail-every-n", 0, "fail the first load attempt of every Nth chunk")
	runCmd.Flags().Bool("init-chunk", false, "fetch an initialization chunk before the first media chunk")
	runCmd.Flags().Float64Var(&runSpeed, "speed", 4.0, "playback rate relative to wall time")
	runCmd.Flags().DurationVar(&runSeekAt, "seek-at", 0, "playback time at which to inject a seek (0 = none)")
	runCmd.Flags().DurationVar(&runSeekTo, "seek-to", 0, "target time of the injected seek")

	mustBindPFlag("sim.stream_duration", runCmd.Flags().Lookup("stream-duration"))
	mustBindPFlag("sim.chunk_duration", runCmd.Flags().Lookup("chunk-duration"))
	mustBindPFlag("sim.fail_every_n", runCmd.Flags().Lookup("fail-every-n"))
	mustBindPFlag("sim.init_chunk", runCmd.Flags().Lookup("init-chunk"))
}

func runRun(cmd *cobra.Command, _ []string) error {
	// The global viper carries the defaults, config file, env vars, and the
	// bound run flags; loading any other instance would drop the flags.
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	stats, err := sim.Run(ctx, sim.RunnerConfig{
		Source: sim.SourceConfig{
			StreamDuration:  cfg.Sim.StreamDuration,
			ChunkDuration:   cfg.Sim.ChunkDuration,
			SamplesPerChunk: cfg.Sim.SamplesPerChunk,
			FailEveryN:      cfg.Sim.FailEveryN,
			InitChunk:       cfg.Sim.InitChunk,
			Logger:          logger,
		},
		TickInterval:       cfg.Sim.TickInterval,
		Speed:              runSpeed,
		BufferContribution: cfg.Buffer.Contribution.Bytes(),
		MinBuffer:          cfg.Buffer.MinBuffer,
		MaxBuffer:          cfg.Buffer.MaxBuffer,
		LoaderRetries:      cfg.Loader.MaxRetries,
		LoaderRetryDelay:   cfg.Loader.RetryDelay,
		SeekAt:             runSeekAt,
		SeekTo:             runSeekTo,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	logger.Info("session summary",
		slog.Int("samples_read", stats.SamplesRead),
		slog.Int("format_changes", stats.FormatsRead),
		slog.Int("discontinuities", stats.Discontinuities),
		slog.Int("completed_chunks", stats.CompletedChunks),
		slog.Int64("completed_bytes", stats.CompletedBytes),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return nil
}
