// Package search implements the Distance Table Builder, Linear and IVF
// scanners, the bounded top-K heap, and the query planner that dispatches
// between them.
package search

import "container/heap"

// Candidate is a scored search result: a candidate identifier and its ADC
// distance to the query.
type Candidate struct {
	ID       int64
	Distance float64
}

// maxHeap is a bounded max-heap over Candidates, keyed by Distance and
// tie-broken toward higher IDs staying on top (so the worst candidate,
// the one evicted first, is the one with the largest distance, and among
// equal distances the one with the largest ID).
type maxHeap []Candidate

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].ID > h[j].ID
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) {
	*h = append(*h, x.(Candidate))
}
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK is a bounded max-heap of size k: pushing past capacity evicts the
// current worst candidate if the new one is better.
type TopK struct {
	k int
	h maxHeap
}

// NewTopK returns a bounded top-k collector.
func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(maxHeap, 0, k)}
}

// Offer considers a candidate for inclusion in the top-k set.
func (t *TopK) Offer(id int64, dist float64) {
	c := Candidate{ID: id, Distance: dist}
	if t.h.Len() < t.k {
		heap.Push(&t.h, c)
		return
	}
	if t.h.Len() == 0 {
		return
	}
	worst := t.h[0]
	if c.Distance < worst.Distance || (c.Distance == worst.Distance && c.ID < worst.ID) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// Drain empties the heap into ascending-distance order, ties broken toward
// the lower id, and returns parallel id/distance slices.
func (t *TopK) Drain() ([]int64, []float64) {
	n := t.h.Len()
	ids := make([]int64, n)
	dists := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		c := heap.Pop(&t.h).(Candidate)
		ids[i] = c.ID
		dists[i] = c.Distance
	}
	return ids, dists
}
