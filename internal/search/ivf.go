package search

import "sort"

// PostingSource is the minimal view an IVF scan needs of the inverted
// index.
type PostingSource interface {
	NList() int
	List(cluster int) []int64
}

// QueryIVF walks coarse clusters in ascending distance-to-query order,
// accumulating full posting lists (a list that pushes the accumulated
// count over L is included whole, never partially consumed) until at
// least L candidates have been gathered, then runs the same bounded top-k
// selection the linear scanner uses over that accumulated set.
func QueryIVF(table *Table, coarseCenters CodeSource, postings PostingSource, codes CodeSource, topk int, targetIDs []int64, l int) ([]int64, []float64) {
	nlist := coarseCenters.Rows()
	order := make([]int, nlist)
	dist := make([]float64, nlist)
	for c := 0; c < nlist; c++ {
		order[c] = c
		dist[c] = table.ADC(coarseCenters.Row(c))
	}
	sort.SliceStable(order, func(i, j int) bool {
		if dist[order[i]] != dist[order[j]] {
			return dist[order[i]] < dist[order[j]]
		}
		return order[i] < order[j]
	})

	var targetSet map[int64]struct{}
	if len(targetIDs) > 0 {
		targetSet = make(map[int64]struct{}, len(targetIDs))
		for _, id := range targetIDs {
			targetSet[id] = struct{}{}
		}
	}

	capHint := l
	if n := codes.Rows(); capHint > n {
		capHint = n
	}
	candidates := make([]int64, 0, capHint)
	for _, c := range order {
		list := postings.List(c)
		if targetSet == nil {
			candidates = append(candidates, list...)
		} else {
			for _, id := range list {
				if _, ok := targetSet[id]; ok {
					candidates = append(candidates, id)
				}
			}
		}
		if len(candidates) >= l {
			break
		}
	}

	return scanCandidates(table, codes, candidates, topk)
}
