// Package coarse implements the Coarse Partitioner: k-means clustering of
// PQ codes in code space, producing nlist coarse centers that are
// themselves valid PQ codes, plus the item-to-center assignment used to
// rebuild posting lists.
package coarse

import (
	"fmt"
	"math/rand"

	"github.com/xDarkicex/rii/internal/store"
)

// Config controls a single Configure call.
type Config struct {
	NList         int
	MaxIterations int
	Seed          int64
}

// ErrTooFewItems is returned when N < NList.
var ErrTooFewItems = fmt.Errorf("coarse: fewer items than requested clusters")

// Result holds the outcome of a Configure run.
type Result struct {
	Centers     *store.Matrix
	Assignments []int // per-item cluster index, ascending item order
}

// Configure runs k-means in PQ-code space over an existing code matrix and
// returns nlist coarse centers (themselves PQ codes) plus the assignment of
// every item to its nearest center.
func Configure(codes *store.Matrix, codewords [][][]float32, cfg Config) (*Result, error) {
	n := codes.Rows()
	if n < cfg.NList {
		return nil, ErrTooFewItems
	}
	m := codes.Cols()
	ks := len(codewords[0])

	pairDist := buildPairwiseCodewordDist(codewords)

	rng := rand.New(rand.NewSource(cfg.Seed))
	perm := rng.Perm(n)
	centers := make([][]uint16, cfg.NList)
	for i := 0; i < cfg.NList; i++ {
		centers[i] = codes.Row(perm[i])
	}

	rows := make([][]uint16, n)
	for i := 0; i < n; i++ {
		rows[i] = codes.Row(i)
	}

	assign := make([]int, n)
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 20
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, row := range rows {
			best, _ := nearestCenter(row, centers, pairDist, m)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		counts := make([]int, cfg.NList)
		// per cluster, per subspace, histogram of member codeword indices
		hist := make([][][]int, cfg.NList)
		for c := range hist {
			hist[c] = make([][]int, m)
			for sub := range hist[c] {
				hist[c][sub] = make([]int, ks)
			}
		}
		for i, row := range rows {
			c := assign[i]
			counts[c]++
			for sub := 0; sub < m; sub++ {
				hist[c][sub][row[sub]]++
			}
		}

		for c := 0; c < cfg.NList; c++ {
			if counts[c] == 0 {
				centers[c] = rows[rng.Intn(n)]
				continue
			}
			newCenter := make([]uint16, m)
			for sub := 0; sub < m; sub++ {
				bestK, bestSum := 0, -1.0
				for k := 0; k < ks; k++ {
					sum := 0.0
					row := pairDist[sub][k]
					h := hist[c][sub]
					for v, cnt := range h {
						if cnt == 0 {
							continue
						}
						sum += float64(cnt) * float64(row[v])
					}
					if bestSum < 0 || sum < bestSum {
						bestSum, bestK = sum, k
					}
				}
				newCenter[sub] = uint16(bestK)
			}
			centers[c] = newCenter
		}

		if !changed && iter > 0 {
			break
		}
	}

	// The loop updates centers after its last assignment step; re-assign so
	// every item maps to its nearest final center.
	for i, row := range rows {
		best, _ := nearestCenter(row, centers, pairDist, m)
		assign[i] = best
	}

	out := store.NewMatrix(m, ks)
	if err := out.SetRows(centers); err != nil {
		return nil, err
	}
	return &Result{Centers: out, Assignments: assign}, nil
}

// SymmetricTable caches the per-sub-quantizer Ks x Ks pairwise codeword
// distances so symmetric PQ distance between any two codes is M lookups.
// The engine keeps one alive between Configure calls to assign
// incrementally appended items to their nearest coarse center.
type SymmetricTable struct {
	pair [][][]float32
}

// NewSymmetricTable precomputes the pairwise codeword distance tables for a
// codebook tensor.
func NewSymmetricTable(codewords [][][]float32) *SymmetricTable {
	return &SymmetricTable{pair: buildPairwiseCodewordDist(codewords)}
}

// Dist returns the symmetric PQ distance between two codes.
func (t *SymmetricTable) Dist(a, b []uint16) float32 {
	var d float32
	for sub := range t.pair {
		d += t.pair[sub][a[sub]][b[sub]]
	}
	return d
}

// Nearest returns the index of the center row nearest to code, ties broken
// toward the lowest index.
func (t *SymmetricTable) Nearest(code []uint16, centers *store.Matrix) int {
	best, bestDist := 0, float32(-1)
	for c := 0; c < centers.Rows(); c++ {
		var d float32
		for sub := 0; sub < centers.Cols(); sub++ {
			d += t.pair[sub][code[sub]][centers.Get(c, sub)]
		}
		if bestDist < 0 || d < bestDist {
			bestDist, best = d, c
		}
	}
	return best
}

// nearestCenter returns the index of the nearest center to row under
// symmetric PQ distance, ties broken toward the lowest index.
func nearestCenter(row []uint16, centers [][]uint16, pairDist [][][]float32, m int) (int, float32) {
	best, bestDist := 0, float32(-1)
	for c, center := range centers {
		var d float32
		for sub := 0; sub < m; sub++ {
			d += pairDist[sub][row[sub]][center[sub]]
		}
		if bestDist < 0 || d < bestDist {
			bestDist, best = d, c
		}
	}
	return best, bestDist
}

// buildPairwiseCodewordDist precomputes, per sub-quantizer, the Ks x Ks
// matrix of squared distances between codewords, so symmetric PQ distance
// between any two codes is a sum of M table lookups.
func buildPairwiseCodewordDist(codewords [][][]float32) [][][]float32 {
	m := len(codewords)
	out := make([][][]float32, m)
	for sub := 0; sub < m; sub++ {
		ks := len(codewords[sub])
		table := make([][]float32, ks)
		for a := 0; a < ks; a++ {
			table[a] = make([]float32, ks)
			for b := 0; b < ks; b++ {
				table[a][b] = sqDist(codewords[sub][a], codewords[sub][b])
			}
		}
		out[sub] = table
	}
	return out
}

func sqDist(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
