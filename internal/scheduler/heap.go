package scheduler

import "time"

// entry is a registered job and its next due time.
type entry struct {
	job   Job
	next  time.Time
	index int // index in the heap (for heap.Interface)

	runs     int
	failures int
	lastRun  time.Time
	lastErr  error
}

// jobHeap is a min-heap of entries ordered by next due time
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].next.Before(h[j].next)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	e.index = -1
	*h = old[0 : n-1]
	return e
}
