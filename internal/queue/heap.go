package queue

// item is one submitted batch waiting in, or moving through, the queue. A
// retried item goes back into the heap with its original seq.
type item struct {
	seq      uint64
	job      Job
	attempts int
	ticket   *Ticket
}

// pending implements [container/heap.Interface] as a min-heap ordered by
// submission sequence number, so the oldest batch is always processed next.
type pending []*item

func (h pending) Len() int { return len(h) }

func (h pending) Less(i, j int) bool { return h[i].seq < h[j].seq }

func (h pending) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *pending) Push(x any) {
	*h = append(*h, x.(*item))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *pending) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
