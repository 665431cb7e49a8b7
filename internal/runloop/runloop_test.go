package runloop

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, l.Post(func() {
			order = append(order, i)
			if i == 9 {
				close(done)
			}
		}))
	}
	<-done

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_DoWaits(t *testing.T) {
	l := New()
	defer l.Close()

	ran := false
	require.NoError(t, l.Do(func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_CloseDrainsPendingTasks(t *testing.T) {
	l := New()

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Post(func() { count.Add(1) }))
	}
	l.Close()

	assert.Equal(t, int32(50), count.Load())
}

func TestLoop_ReentrantPostsNeverBlock(t *testing.T) {
	l := New()
	defer l.Close()

	// A task may fan out far more follow-up work than any fixed queue
	// depth; posting from the loop goroutine must not deadlock on it.
	count := 0
	require.NoError(t, l.Do(func() {
		for i := 0; i < 1000; i++ {
			require.NoError(t, l.Post(func() { count++ }))
		}
	}))

	// The posts above are ordered before this barrier.
	require.NoError(t, l.Do(func() {}))
	assert.Equal(t, 1000, count)
}

func TestLoop_PostAfterClose(t *testing.T) {
	l := New()
	l.Close()

	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)
}

func TestLoop_CloseIsIdempotent(t *testing.T) {
	l := New()
	l.Close()
	l.Close()
}
