package chunk

// window is the ordered, time-increasing sequence of buffered and loading
// media chunks. Each appended chunk starts at or after the previous chunk's
// end time; the chunk currently loading, if any, is always the last
// element. Only a trailing suffix is ever discarded, and the retention
// policy never removes the first element.
type window struct {
	chunks []*Chunk
}

func (w *window) len() int {
	return len(w.chunks)
}

func (w *window) isEmpty() bool {
	return len(w.chunks) == 0
}

func (w *window) first() *Chunk {
	return w.chunks[0]
}

func (w *window) last() *Chunk {
	return w.chunks[len(w.chunks)-1]
}

func (w *window) at(i int) *Chunk {
	return w.chunks[i]
}

func (w *window) append(c *Chunk) {
	w.chunks = append(w.chunks, c)
}

func (w *window) removeFirst() *Chunk {
	c := w.chunks[0]
	w.chunks[0] = nil
	w.chunks = w.chunks[1:]
	return c
}

func (w *window) removeLast() *Chunk {
	i := len(w.chunks) - 1
	c := w.chunks[i]
	w.chunks[i] = nil
	w.chunks = w.chunks[:i]
	return c
}

func (w *window) clear() {
	w.chunks = nil
}

// buffered returns a copy of the window for read-only consumers.
func (w *window) buffered() []*Chunk {
	out := make([]*Chunk, len(w.chunks))
	copy(out, w.chunks)
	return out
}

// trimConsumed drops fully superseded leading chunks: while the second
// chunk's first contributed sample index is at or before the queue's read
// position, the first chunk can no longer be read and is removed. The last
// remaining chunk is never dropped.
func (w *window) trimConsumed(readIndex int) {
	for len(w.chunks) > 1 && w.chunks[1].Media().FirstSampleIndex() <= readIndex {
		w.removeFirst()
	}
}
