package search

import (
	"runtime"
	"sync"
)

// CodeSource is the minimal view a scanner needs of the code store.
type CodeSource interface {
	Rows() int
	Row(i int) []uint16
}

// QueryLinear performs an exhaustive ADC scan over a candidate set (all N
// items if targetIDs is empty, otherwise exactly targetIDs with
// out-of-range ids silently skipped) and returns the top-k ascending by
// distance, ties broken toward the lower id.
func QueryLinear(table *Table, codes CodeSource, topk int, targetIDs []int64) ([]int64, []float64) {
	candidates := resolveCandidates(codes.Rows(), targetIDs)
	return scanCandidates(table, codes, candidates, topk)
}

// resolveCandidates expands an empty targetIDs into [0,n), or filters
// targetIDs to those within [0,n).
func resolveCandidates(n int, targetIDs []int64) []int64 {
	if len(targetIDs) == 0 {
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(i)
		}
		return out
	}
	out := make([]int64, 0, len(targetIDs))
	for _, id := range targetIDs {
		if id >= 0 && id < int64(n) {
			out = append(out, id)
		}
	}
	return out
}

// scanCandidates runs the ADC scan over an explicit candidate slice,
// parallelized across workers, merging into a single bounded top-k heap.
func scanCandidates(table *Table, codes CodeSource, candidates []int64, topk int) ([]int64, []float64) {
	if topk < 1 {
		topk = 1
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (len(candidates) + workers - 1) / workers
	if chunkSize == 0 {
		chunkSize = 1
	}

	partials := make([]*TopK, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if start >= len(candidates) {
			partials[w] = NewTopK(topk)
			continue
		}
		if end > len(candidates) {
			end = len(candidates)
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			local := NewTopK(topk)
			for _, id := range candidates[start:end] {
				row := codes.Row(int(id))
				local.Offer(id, table.ADC(row))
			}
			partials[w] = local
		}(w, start, end)
	}
	wg.Wait()

	final := NewTopK(topk)
	for _, p := range partials {
		ids, dists := p.Drain()
		for i := range ids {
			final.Offer(ids[i], dists[i])
		}
	}
	return final.Drain()
}
