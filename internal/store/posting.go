package store

import "sort"

// PostingLists holds the nlist ordered per-cluster id lists of an inverted
// index. Every id in [0, N) appears in exactly one list, in ascending order.
type PostingLists struct {
	lists [][]int64
}

// NewPostingLists returns an empty set of n lists (n may be zero before the
// first Configure).
func NewPostingLists(n int) *PostingLists {
	return &PostingLists{lists: make([][]int64, n)}
}

// NList reports the number of posting lists.
func (p *PostingLists) NList() int { return len(p.lists) }

// List returns the ascending id list for a cluster. The returned slice must
// not be mutated by the caller.
func (p *PostingLists) List(cluster int) []int64 { return p.lists[cluster] }

// Len returns the number of ids assigned to a cluster.
func (p *PostingLists) Len(cluster int) int { return len(p.lists[cluster]) }

// Rebuild replaces all posting lists given a full assignment slice
// (assignments[i] = cluster index for id i), rebuilding every list in
// ascending id order.
func (p *PostingLists) Rebuild(nlist int, assignments []int) {
	lists := make([][]int64, nlist)
	for id, cluster := range assignments {
		lists[cluster] = append(lists[cluster], int64(id))
	}
	// assignments are walked in ascending id order above, so lists are
	// already sorted; Sort is defensive only.
	for c := range lists {
		if !sort.SliceIsSorted(lists[c], func(i, j int) bool { return lists[c][i] < lists[c][j] }) {
			sort.Slice(lists[c], func(i, j int) bool { return lists[c][i] < lists[c][j] })
		}
	}
	p.lists = lists
}

// AppendTo appends an id to a single cluster's list, used when appending new
// items to an already-configured index without a full rebuild.
func (p *PostingLists) AppendTo(cluster int, id int64) {
	p.lists[cluster] = append(p.lists[cluster], id)
}

// Clear drops all posting lists; NList reports 0 until the next Rebuild.
func (p *PostingLists) Clear() {
	p.lists = nil
}

// TotalLen sums the length of all lists, used for coverage assertions.
func (p *PostingLists) TotalLen() int {
	n := 0
	for _, l := range p.lists {
		n += len(l)
	}
	return n
}
