package codec

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/schollz/progressbar/v3"
)

// PQ is a plain product quantizer: D-dimensional vectors are split into M
// equal sub-vectors of width Ds, each independently vector-quantized
// against its own Ks-entry codebook.
type PQ struct {
	m, ks, ds int
	codewords [][][]float32 // [m][k][ds]
}

// FitOptions configures codec training.
type FitOptions struct {
	Seed          int64
	MaxIterations int
	Verbose       bool
}

// FitOption mutates FitOptions.
type FitOption func(*FitOptions)

// WithSeed fixes the RNG seed used for codebook k-means initialization.
func WithSeed(seed int64) FitOption { return func(o *FitOptions) { o.Seed = seed } }

// WithMaxIterations bounds the per-subspace k-means loop.
func WithMaxIterations(n int) FitOption { return func(o *FitOptions) { o.MaxIterations = n } }

// WithVerbose toggles a progress bar across the M subspace training passes.
func WithVerbose(v bool) FitOption { return func(o *FitOptions) { o.Verbose = v } }

func defaultFitOptions() FitOptions {
	return FitOptions{Seed: 1, MaxIterations: 20, Verbose: false}
}

// FitPQ trains a plain PQ codec on a set of D-dimensional training vectors.
func FitPQ(vectors [][]float32, m, ks int, opts ...FitOption) (*PQ, error) {
	o := defaultFitOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("codec: cannot fit PQ on zero training vectors")
	}
	d := len(vectors[0])
	if err := validateDims(d, m, ks); err != nil {
		return nil, err
	}
	if len(vectors) < ks {
		return nil, fmt.Errorf("codec: need at least Ks=%d training vectors, got %d", ks, len(vectors))
	}
	ds := d / m

	rng := rand.New(rand.NewSource(o.Seed))
	var bar *progressbar.ProgressBar
	if o.Verbose {
		bar = progressbar.Default(int64(m), "training PQ subspaces")
	}

	codewords := make([][][]float32, m)
	for sub := 0; sub < m; sub++ {
		sub := sub
		subVecs := make([][]float32, len(vectors))
		for i, v := range vectors {
			subVecs[i] = v[sub*ds : (sub+1)*ds]
		}
		codewords[sub] = kmeansSubspace(subVecs, ks, o.MaxIterations, rng)
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	return &PQ{m: m, ks: ks, ds: ds, codewords: codewords}, nil
}

func (p *PQ) M() int  { return p.m }
func (p *PQ) Ks() int { return p.ks }
func (p *PQ) Ds() int { return p.ds }
func (p *PQ) D() int  { return p.m * p.ds }

func (p *PQ) Codewords() [][][]float32 { return p.codewords }

// Rotate is the identity for plain PQ.
func (p *PQ) Rotate(q []float32) []float32 {
	out := make([]float32, len(q))
	copy(out, q)
	return out
}

// Encode maps raw vectors to PQ codes by nearest-codeword search per
// sub-quantizer.
func (p *PQ) Encode(raw [][]float32) ([][]uint16, error) {
	out := make([][]uint16, len(raw))
	for i, v := range raw {
		if len(v) != p.D() {
			return nil, ErrDimensionMismatch
		}
		row := make([]uint16, p.m)
		for sub := 0; sub < p.m; sub++ {
			subVec := v[sub*p.ds : (sub+1)*p.ds]
			row[sub] = uint16(nearestCodeword(subVec, p.codewords[sub]))
		}
		out[i] = row
	}
	return out, nil
}

func nearestCodeword(v []float32, book [][]float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for k, cw := range book {
		d := sqDist(v, cw)
		if d < bestDist {
			bestDist, best = d, k
		}
	}
	return best
}

func sqDist(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// kmeansSubspace runs a small Lloyd's-iteration k-means over one subspace's
// training vectors, seeding centroids by uniform sampling without
// replacement, and returns the resulting Ks codewords.
func kmeansSubspace(vecs [][]float32, ks, maxIter int, rng *rand.Rand) [][]float32 {
	n := len(vecs)
	if ks > n {
		ks = n
	}
	ds := len(vecs[0])

	perm := rng.Perm(n)
	centers := make([][]float32, ks)
	for i := 0; i < ks; i++ {
		centers[i] = append([]float32(nil), vecs[perm[i]]...)
	}

	assign := make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vecs {
			best, bestDist := 0, float32(math.MaxFloat32)
			for k, c := range centers {
				d := sqDist(v, c)
				if d < bestDist {
					bestDist, best = d, k
				}
			}
			if assign[i] != best {
				changed = true
				assign[i] = best
			}
		}

		sums := make([][]float64, ks)
		counts := make([]int, ks)
		for k := range sums {
			sums[k] = make([]float64, ds)
		}
		for i, v := range vecs {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for k := 0; k < ks; k++ {
			if counts[k] == 0 {
				centers[k] = append([]float32(nil), vecs[rng.Intn(n)]...)
				continue
			}
			for j := 0; j < ds; j++ {
				centers[k][j] = float32(sums[k][j] / float64(counts[k]))
			}
		}
		if !changed {
			break
		}
	}
	return centers
}
