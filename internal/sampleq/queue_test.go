package sampleq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/chunkstream/internal/chunk"
	"github.com/jmylchreest/chunkstream/internal/loadcontrol"
)

func newTestQueue() (*Queue, *loadcontrol.DefaultAllocator) {
	alloc := loadcontrol.NewAllocator()
	return New(alloc), alloc
}

func fmtV(id string) chunk.Format {
	return chunk.Format{ID: id, MimeType: "video/avc", Bitrate: 500_000}
}

func write(q *Queue, timeUs int64, keyframe bool) {
	q.WriteSample(chunk.Sample{TimeUs: timeUs, Keyframe: keyframe, Data: []byte{1, 2, 3, 4}})
}

func TestQueue_EmptyReads(t *testing.T) {
	q, _ := newTestQueue()

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	assert.Equal(t, chunk.ReadNothing, q.Read(&f, &s, false, 0))
	assert.Equal(t, chunk.ReadEndOfStream, q.Read(&f, &s, true, 0))
	assert.True(t, q.IsEmpty())
	assert.Equal(t, int64(math.MinInt64), q.LargestQueuedTimestampUs())
}

func TestQueue_FormatThenSamples(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	require.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	assert.Equal(t, "v1", f.Format.ID)

	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(0), s.TimeUs)
	assert.True(t, s.Keyframe)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.Data)

	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(1000), s.TimeUs)
	assert.True(t, q.IsEmpty())
}

func TestQueue_FormatChangeMidStream(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	q.WriteFormat(fmtV("v2"))
	write(q, 1000, true)

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	assert.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	assert.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))

	// Crossing into the second format re-delivers a format record first.
	require.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	assert.Equal(t, "v2", f.Format.ID)
	assert.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
}

func TestQueue_NeedDownstreamFormat(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	assert.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	assert.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))

	q.NeedDownstreamFormat()
	assert.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
}

func TestQueue_DecodeOnlySuppression(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	write(q, 2000, false)

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	require.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 2000))

	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 2000))
	assert.True(t, s.DecodeOnly)
	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 2000))
	assert.True(t, s.DecodeOnly)
	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 2000))
	assert.False(t, s.DecodeOnly)
}

func TestQueue_ReadReleasesConsumedBytes(t *testing.T) {
	q, alloc := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	require.Equal(t, int64(8), alloc.AllocatedBytes())

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	require.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(8), alloc.AllocatedBytes())

	// Each consumed sample hands its bytes back to the budget, so a long
	// session never accumulates everything ever played.
	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(4), alloc.AllocatedBytes())
	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(0), alloc.AllocatedBytes())

	// Indices stay absolute across the compaction.
	assert.Equal(t, 2, q.ReadIndex())
	assert.Equal(t, 2, q.WriteIndex())
}

func TestQueue_SkipReleasesSkippedBytes(t *testing.T) {
	q, alloc := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	write(q, 2000, true)
	require.Equal(t, int64(12), alloc.AllocatedBytes())

	require.True(t, q.SkipToKeyframeBefore(2000))

	assert.Equal(t, int64(4), alloc.AllocatedBytes())
	assert.Equal(t, 2, q.ReadIndex())
}

func TestQueue_WriteIndexIsMonotonic(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	assert.Equal(t, 0, q.WriteIndex())
	write(q, 0, true)
	write(q, 1000, false)
	assert.Equal(t, 2, q.WriteIndex())

	q.Clear()
	// Indices never restart after a clear.
	assert.Equal(t, 2, q.WriteIndex())
	assert.Equal(t, 2, q.ReadIndex())

	write(q, 5000, true)
	assert.Equal(t, 3, q.WriteIndex())
}

func TestQueue_DiscardUpstreamFrom(t *testing.T) {
	q, alloc := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	write(q, 2000, false)
	allocated := alloc.AllocatedBytes()

	q.DiscardUpstreamFrom(1)

	assert.Equal(t, 1, q.WriteIndex())
	assert.Equal(t, int64(0), q.LargestQueuedTimestampUs())
	assert.Less(t, alloc.AllocatedBytes(), allocated)

	// Discarding past the end is a no-op.
	q.DiscardUpstreamFrom(10)
	assert.Equal(t, 1, q.WriteIndex())
}

func TestQueue_SkipToKeyframeBefore(t *testing.T) {
	q, _ := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	write(q, 2000, true)
	write(q, 3000, false)

	// Forward skip lands on the last keyframe at or before the target.
	require.True(t, q.SkipToKeyframeBefore(2500))
	assert.Equal(t, 2, q.ReadIndex())

	var f chunk.FormatHolder
	var s chunk.SampleHolder
	require.Equal(t, chunk.ReadFormat, q.Read(&f, &s, false, 0))
	require.Equal(t, chunk.ReadSample, q.Read(&f, &s, false, 0))
	assert.Equal(t, int64(2000), s.TimeUs)
}

func TestQueue_SkipToKeyframeBeforeFailures(t *testing.T) {
	q, _ := newTestQueue()

	// Empty queue.
	assert.False(t, q.SkipToKeyframeBefore(0))

	q.WriteFormat(fmtV("v1"))
	write(q, 1000, true)
	write(q, 2000, false)

	// Backward skips and skips past the buffered range fail.
	assert.False(t, q.SkipToKeyframeBefore(500))
	assert.False(t, q.SkipToKeyframeBefore(5000))

	// In range but succeeds only when a keyframe exists at or before.
	assert.True(t, q.SkipToKeyframeBefore(1500))
	assert.Equal(t, 0, q.ReadIndex())
}

func TestQueue_ClearReleasesAllocation(t *testing.T) {
	q, alloc := newTestQueue()
	q.WriteFormat(fmtV("v1"))
	write(q, 0, true)
	write(q, 1000, false)
	require.Positive(t, alloc.AllocatedBytes())

	q.Clear()

	assert.Equal(t, int64(0), alloc.AllocatedBytes())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, int64(math.MinInt64), q.LargestQueuedTimestampUs())
}
