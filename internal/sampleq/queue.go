// Package sampleq provides the default sample queue for the chunk
// buffering core: an append-only store of access units with a monotonic
// read cursor, absolute sample indices, and upstream/downstream format
// tracking. Sample payloads are drawn from the shared allocator so buffer
// use is accounted against the playback session's memory budget.
package sampleq

import (
	"math"
	"sync"

	"github.com/jmylchreest/chunkstream/internal/chunk"
)

type entry struct {
	sample chunk.Sample
	format chunk.Format
}

// Queue implements chunk.SampleQueue. It is written by the load goroutine
// and read by the control goroutine, so it carries its own lock; everything
// else in the buffering core is single-goroutine by construction.
type Queue struct {
	alloc chunk.Allocator

	mu        sync.Mutex
	entries   []entry
	baseIndex int // absolute index of entries[0]
	readIndex int // absolute index of the next sample to read

	upstreamFormat    chunk.Format
	hasUpstreamFormat bool

	downstreamFormat    chunk.Format
	hasDownstreamFormat bool

	largestTimestampUs int64
}

// New creates an empty queue drawing sample storage from alloc.
func New(alloc chunk.Allocator) *Queue {
	return &Queue{
		alloc:              alloc,
		largestTimestampUs: math.MinInt64,
	}
}

// WriteIndex implements chunk.SampleQueue.
func (q *Queue) WriteIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.baseIndex + len(q.entries)
}

// WriteFormat implements chunk.SampleQueue.
func (q *Queue) WriteFormat(f chunk.Format) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upstreamFormat = f
	q.hasUpstreamFormat = true
}

// WriteSample implements chunk.SampleQueue. The sample data is copied into
// allocator-backed storage.
func (q *Queue) WriteSample(s chunk.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(s.Data) > 0 {
		buf := q.alloc.Allocate(len(s.Data))
		copy(buf, s.Data)
		s.Data = buf[:len(s.Data)]
	}
	q.entries = append(q.entries, entry{sample: s, format: q.upstreamFormat})
	if s.TimeUs > q.largestTimestampUs {
		q.largestTimestampUs = s.TimeUs
	}
}

// Read implements chunk.SampleQueue.
func (q *Queue) Read(f *chunk.FormatHolder, s *chunk.SampleHolder, endOfStreamAllowed bool, suppressBeforeUs int64) chunk.ReadResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readIndex == q.baseIndex+len(q.entries) {
		if endOfStreamAllowed {
			return chunk.ReadEndOfStream
		}
		return chunk.ReadNothing
	}
	e := q.entries[q.readIndex-q.baseIndex]
	if !q.hasDownstreamFormat || e.format != q.downstreamFormat {
		f.Format = e.format
		f.DRMInitData = nil
		q.downstreamFormat = e.format
		q.hasDownstreamFormat = true
		return chunk.ReadFormat
	}
	s.TimeUs = e.sample.TimeUs
	s.Keyframe = e.sample.Keyframe
	s.Data = e.sample.Data
	s.DecodeOnly = e.sample.TimeUs < suppressBeforeUs
	q.readIndex++
	q.dropConsumed()
	return chunk.ReadSample
}

// dropConsumed releases the allocation of every entry the read cursor has
// moved past, keeping the byte budget in step with playback. Absolute
// indices are preserved by advancing baseIndex. Callers must hold mu.
func (q *Queue) dropConsumed() {
	n := q.readIndex - q.baseIndex
	if n <= 0 {
		return
	}
	for _, e := range q.entries[:n] {
		q.alloc.Release(len(e.sample.Data))
	}
	q.entries = q.entries[n:]
	q.baseIndex += n
}

// DiscardUpstreamFrom implements chunk.SampleQueue.
func (q *Queue) DiscardUpstreamFrom(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index >= q.baseIndex+len(q.entries) {
		return
	}
	keep := index - q.baseIndex
	if keep < 0 {
		keep = 0
	}
	for _, e := range q.entries[keep:] {
		q.alloc.Release(len(e.sample.Data))
	}
	q.entries = q.entries[:keep]
	if q.readIndex > q.baseIndex+keep {
		q.readIndex = q.baseIndex + keep
	}
	q.largestTimestampUs = math.MinInt64
	for _, e := range q.entries {
		if e.sample.TimeUs > q.largestTimestampUs {
			q.largestTimestampUs = e.sample.TimeUs
		}
	}
}

// SkipToKeyframeBefore implements chunk.SampleQueue. The skip is forward
// only: it fails when timeUs precedes the next unread sample or exceeds the
// largest queued timestamp.
func (q *Queue) SkipToKeyframeBefore(timeUs int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	unread := q.baseIndex + len(q.entries) - q.readIndex
	if unread == 0 {
		return false
	}
	if timeUs < q.entries[q.readIndex-q.baseIndex].sample.TimeUs {
		return false
	}
	if timeUs > q.largestTimestampUs {
		return false
	}
	target := -1
	for i := q.readIndex - q.baseIndex; i < len(q.entries); i++ {
		e := q.entries[i]
		if e.sample.TimeUs > timeUs {
			break
		}
		if e.sample.Keyframe {
			target = i
		}
	}
	if target < 0 {
		return false
	}
	q.readIndex = q.baseIndex + target
	q.dropConsumed()
	return true
}

// Clear implements chunk.SampleQueue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		q.alloc.Release(len(e.sample.Data))
	}
	q.baseIndex += len(q.entries)
	q.readIndex = q.baseIndex
	q.entries = nil
	q.hasUpstreamFormat = false
	q.hasDownstreamFormat = false
	q.largestTimestampUs = math.MinInt64
}

// IsEmpty implements chunk.SampleQueue.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex == q.baseIndex+len(q.entries)
}

// LargestQueuedTimestampUs implements chunk.SampleQueue.
func (q *Queue) LargestQueuedTimestampUs() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.largestTimestampUs
}

// ReadIndex implements chunk.SampleQueue.
func (q *Queue) ReadIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex
}

// NeedDownstreamFormat implements chunk.SampleQueue.
func (q *Queue) NeedDownstreamFormat() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hasDownstreamFormat = false
}
