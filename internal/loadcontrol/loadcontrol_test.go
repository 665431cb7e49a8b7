package loadcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/chunkstream/internal/chunk"
)

func TestAllocator_Accounting(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, int64(0), a.AllocatedBytes())

	buf := a.Allocate(128)
	assert.Len(t, buf, 128)
	assert.Equal(t, int64(128), a.AllocatedBytes())

	a.Allocate(64)
	assert.Equal(t, int64(192), a.AllocatedBytes())

	a.Release(128)
	assert.Equal(t, int64(64), a.AllocatedBytes())
}

func TestController_Defaults(t *testing.T) {
	c := New(NewAllocator(), Config{})
	assert.Equal(t, DefaultMinBuffer, c.minBuffer)
	assert.Equal(t, DefaultMaxBuffer, c.maxBuffer)
}

func TestController_UnsetNextLoadDeniesLoading(t *testing.T) {
	c := New(NewAllocator(), Config{})
	assert.False(t, c.Update("t", 0, chunk.UnsetTime(), true))
}

func TestController_Watermarks(t *testing.T) {
	c := New(NewAllocator(), Config{MinBuffer: 10 * time.Second, MaxBuffer: 20 * time.Second})

	tests := []struct {
		name       string
		bufferedUs int64
		loading    bool
		want       bool
	}{
		{"below min always loads", 5_000_000, false, true},
		{"below min keeps loading", 5_000_000, true, true},
		{"above max never loads", 25_000_000, true, false},
		{"between watermarks idle stays idle", 15_000_000, false, false},
		{"between watermarks loading keeps loading", 15_000_000, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Update("t", 0, chunk.TimeUs(tt.bufferedUs), tt.loading)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestController_ByteBudgetOverridesWatermarks(t *testing.T) {
	alloc := NewAllocator()
	c := New(alloc, Config{MinBuffer: 10 * time.Second, MaxBuffer: 20 * time.Second})
	c.Register("t", 1024)

	// Under budget and under the low watermark: load.
	assert.True(t, c.Update("t", 0, chunk.TimeUs(1_000_000), false))

	// Exhaust the budget: even a starved buffer may not load.
	alloc.Allocate(2048)
	assert.False(t, c.Update("t", 0, chunk.TimeUs(1_000_000), false))

	// Releasing memory re-admits.
	alloc.Release(2048)
	assert.True(t, c.Update("t", 0, chunk.TimeUs(1_000_000), false))
}

func TestController_RegisterUnregisterAdjustsBudget(t *testing.T) {
	alloc := NewAllocator()
	c := New(alloc, Config{})
	c.Register("a", 100)
	c.Register("b", 200)
	assert.Equal(t, int64(300), c.targetBudget)

	c.Unregister("a")
	assert.Equal(t, int64(200), c.targetBudget)

	// Unregistering an unknown client is a no-op.
	c.Unregister("a")
	assert.Equal(t, int64(200), c.targetBudget)
}

func TestController_AllocatorAccessor(t *testing.T) {
	alloc := NewAllocator()
	c := New(alloc, Config{})
	assert.Same(t, alloc, c.Allocator())
}
