// Package loadcontrol provides the default admission controller for chunk
// buffering: a watermark policy over buffered duration combined with a
// shared byte budget across all registered tracks.
package loadcontrol

import (
	"log/slog"
	"time"

	"github.com/jmylchreest/chunkstream/internal/chunk"
	"github.com/jmylchreest/chunkstream/internal/observability"
)

// DefaultMinBuffer is the buffered duration below which loading always
// resumes.
const DefaultMinBuffer = 15 * time.Second

// DefaultMaxBuffer is the buffered duration above which loading always
// pauses.
const DefaultMaxBuffer = 30 * time.Second

// Config configures a Controller.
type Config struct {
	// MinBuffer is the low watermark: below this buffered duration a track
	// may always load. Zero means DefaultMinBuffer.
	MinBuffer time.Duration
	// MaxBuffer is the high watermark: above this buffered duration a
	// track may never load. Zero means DefaultMaxBuffer.
	MaxBuffer time.Duration
	// Logger is used for diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Controller implements chunk.LoadControl. Between the two watermarks the
// decision is sticky: a track already loading keeps loading, an idle track
// stays idle. The shared byte budget, the sum of registered buffer
// contributions, overrides the watermarks: once the allocator is over
// budget no track may start or continue.
type Controller struct {
	alloc     chunk.Allocator
	minBuffer time.Duration
	maxBuffer time.Duration
	logger    *slog.Logger

	registered   map[any]int64
	targetBudget int64
}

// New creates a Controller around the given allocator.
func New(alloc chunk.Allocator, cfg Config) *Controller {
	if cfg.MinBuffer <= 0 {
		cfg.MinBuffer = DefaultMinBuffer
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		alloc:      alloc,
		minBuffer:  cfg.MinBuffer,
		maxBuffer:  cfg.MaxBuffer,
		logger:     observability.WithComponent(logger, "load-control"),
		registered: make(map[any]int64),
	}
}

// Register implements chunk.LoadControl.
func (c *Controller) Register(client any, bufferContribution int64) {
	c.registered[client] = bufferContribution
	c.targetBudget += bufferContribution
	c.logger.Debug("client registered",
		slog.Int64("contribution", bufferContribution),
		slog.Int64("target_budget", c.targetBudget),
	)
}

// Unregister implements chunk.LoadControl.
func (c *Controller) Unregister(client any) {
	if contribution, ok := c.registered[client]; ok {
		delete(c.registered, client)
		c.targetBudget -= contribution
	}
}

// Update implements chunk.LoadControl.
func (c *Controller) Update(client any, playbackPositionUs int64, nextLoadPosition chunk.Timestamp, loading bool) bool {
	if !nextLoadPosition.IsSet() {
		// Nothing further to load.
		return false
	}
	if c.targetBudget > 0 && c.alloc.AllocatedBytes() >= c.targetBudget {
		return false
	}
	bufferedUs := nextLoadPosition.Us() - playbackPositionUs
	switch {
	case bufferedUs < c.minBuffer.Microseconds():
		return true
	case bufferedUs > c.maxBuffer.Microseconds():
		return false
	default:
		return loading
	}
}

// TrimAllocator implements chunk.LoadControl. The default allocator frees
// through the garbage collector, so a trim is bookkeeping only.
func (c *Controller) TrimAllocator() {
	c.logger.Debug("allocator trim requested",
		slog.Int64("allocated", c.alloc.AllocatedBytes()),
	)
}

// Allocator implements chunk.LoadControl.
func (c *Controller) Allocator() chunk.Allocator {
	return c.alloc
}
