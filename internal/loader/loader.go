// Package loader provides the single-slot fetch executor used by the
// chunk buffering core. One load runs at a time on its own goroutine;
// outcomes are posted back onto the control run loop, so callbacks never
// race with the code that started the load.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/chunkstream/internal/chunk"
	"github.com/jmylchreest/chunkstream/internal/observability"
	"github.com/jmylchreest/chunkstream/internal/runloop"
)

// DefaultMaxRetries is the default number of times a load is retried
// before the error is recorded as fatal.
const DefaultMaxRetries = 3

// DefaultRetryDelay is the default pause before a retry attempt.
const DefaultRetryDelay = time.Second

// Config configures a Loader.
type Config struct {
	// MaxRetries is the number of retries before a load error becomes
	// fatal. Zero means DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the pause before retrying a failed attempt. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// Logger is used for diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Loader implements chunk.Loader. All exported methods must be called on
// the control run-loop goroutine; the loader posts its callbacks onto the
// same loop, so its state needs no locking.
type Loader struct {
	loop       *runloop.Loop
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	current *loadTask
	fatal   error
}

type loadTask struct {
	chunk      *chunk.Chunk
	cb         chunk.LoaderCallback
	cancel     context.CancelFunc
	canceled   bool
	parked     bool // retries exhausted; task holds the slot with fatal latched
	errorCount int
	retryTimer *time.Timer
}

// New creates a Loader posting its callbacks onto loop.
func New(loop *runloop.Loop, cfg Config) *Loader {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		loop:       loop,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     observability.WithComponent(logger, "loader"),
	}
}

// StartLoading implements chunk.Loader. It panics if a load is already in
// progress; a load parked on a fatal error still occupies the slot until
// it is canceled or the loader is released.
func (l *Loader) StartLoading(c *chunk.Chunk, cb chunk.LoaderCallback) {
	if l.current != nil {
		panic("loader: StartLoading called while loading")
	}
	t := &loadTask{chunk: c, cb: cb}
	l.current = t
	l.startAttempt(t)
}

// IsLoading implements chunk.Loader. A load waiting to retry, or parked on
// a fatal error, still counts as in flight.
func (l *Loader) IsLoading() bool {
	return l.current != nil
}

// CancelLoading implements chunk.Loader. Cancellation is cooperative: the
// OnLoadCanceled callback confirms it once the load goroutine has stopped.
// Canceling a load parked on a fatal error clears the fault; this is the
// external-restart path for a dead track.
func (l *Loader) CancelLoading() {
	t := l.current
	if t == nil || t.canceled {
		return
	}
	t.canceled = true
	if t.retryTimer != nil || t.parked {
		// No goroutine in flight; confirm asynchronously to preserve
		// callback ordering.
		if t.retryTimer != nil {
			t.retryTimer.Stop()
			t.retryTimer = nil
		}
		l.post(func() {
			if t != l.current {
				return
			}
			l.current = nil
			l.fatal = nil
			t.cb.OnLoadCanceled(t.chunk)
		})
		return
	}
	t.cancel()
}

// MaybeThrowError implements chunk.Loader.
func (l *Loader) MaybeThrowError() error {
	return l.fatal
}

// Release implements chunk.Loader. Any in-flight load is abandoned without
// a callback, and a latched fatal error is dropped with it.
func (l *Loader) Release() {
	l.fatal = nil
	t := l.current
	if t == nil {
		return
	}
	t.canceled = true
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	l.current = nil
}

func (l *Loader) post(fn func()) {
	if err := l.loop.Post(fn); err != nil {
		observability.WithError(l.logger, err).Warn("dropping loader callback")
	}
}

func (l *Loader) startAttempt(t *loadTask) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go func() {
		err := t.chunk.Load(ctx)
		cancel()
		l.post(func() { l.onAttemptDone(t, err) })
	}()
}

func (l *Loader) onAttemptDone(t *loadTask, err error) {
	if t != l.current {
		// Stale outcome from a released load.
		return
	}
	if t.canceled {
		l.current = nil
		t.cb.OnLoadCanceled(t.chunk)
		return
	}
	if err == nil {
		l.current = nil
		t.cb.OnLoadCompleted(t.chunk)
		return
	}
	t.errorCount++
	observability.WithError(l.logger, err).Warn("load attempt failed",
		slog.String("uri", t.chunk.Spec.URI),
		slog.Int("attempt", t.errorCount),
	)
	// Free the slot while the callback runs so it may absorb the error and
	// start a fresh load.
	l.current = nil
	if t.cb.OnLoadError(t.chunk, err) == chunk.ActionDontRetry {
		return
	}
	if l.current != nil {
		// The callback restarted loading with a different chunk.
		return
	}
	l.current = t
	if t.errorCount > l.maxRetries {
		l.fatal = fmt.Errorf("load of %s failed after %d attempts: %w", t.chunk.Spec.URI, t.errorCount, err)
		observability.WithError(l.logger, err).Error("load failed permanently",
			slog.String("uri", t.chunk.Spec.URI),
		)
		// The parked task keeps the slot occupied so no further chunk is
		// scheduled on this track until it is externally restarted.
		t.parked = true
		return
	}
	t.retryTimer = time.AfterFunc(l.retryDelay, func() {
		l.post(func() {
			if t != l.current || t.canceled {
				return
			}
			t.retryTimer = nil
			l.startAttempt(t)
		})
	})
}
