package codec

import (
	"math"
	"math/rand"
)

// OPQ is a rotated product quantizer: a fixed D x D orthonormal rotation is
// applied to every vector before the underlying PQ codebooks are trained or
// consulted. Training the rotation jointly with the codebooks (full
// alternating-optimization OPQ) is out of scope for this module's external
// collaborator; a single random orthonormal rotation, generated once via
// Gram-Schmidt over a seeded Gaussian draw, is a real simplified variant.
type OPQ struct {
	pq *PQ
	r  [][]float32 // D x D orthonormal rotation
}

// FitOPQ generates a random orthonormal rotation and trains a PQ codec on
// the rotated training vectors.
func FitOPQ(vectors [][]float32, m, ks int, opts ...FitOption) (*OPQ, error) {
	o := defaultFitOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(vectors) == 0 {
		return nil, ErrDimensionMismatch
	}
	d := len(vectors[0])
	rng := rand.New(rand.NewSource(o.Seed))
	r := randomOrthonormal(d, rng)

	rotated := make([][]float32, len(vectors))
	for i, v := range vectors {
		rotated[i] = applyRotation(r, v)
	}

	pq, err := FitPQ(rotated, m, ks, opts...)
	if err != nil {
		return nil, err
	}
	return &OPQ{pq: pq, r: r}, nil
}

func (o *OPQ) M() int                  { return o.pq.M() }
func (o *OPQ) Ks() int                 { return o.pq.Ks() }
func (o *OPQ) Ds() int                 { return o.pq.Ds() }
func (o *OPQ) D() int                  { return o.pq.D() }
func (o *OPQ) Codewords() [][][]float32 { return o.pq.Codewords() }

// Rotate applies the fixed random rotation matrix.
func (o *OPQ) Rotate(q []float32) []float32 { return applyRotation(o.r, q) }

// Encode rotates raw vectors before delegating to the underlying PQ.
func (o *OPQ) Encode(raw [][]float32) ([][]uint16, error) {
	rotated := make([][]float32, len(raw))
	for i, v := range raw {
		if len(v) != o.D() {
			return nil, ErrDimensionMismatch
		}
		rotated[i] = applyRotation(o.r, v)
	}
	return o.pq.Encode(rotated)
}

func applyRotation(r [][]float32, v []float32) []float32 {
	d := len(v)
	out := make([]float32, d)
	for i := 0; i < d; i++ {
		var s float32
		row := r[i]
		for j := 0; j < d; j++ {
			s += row[j] * v[j]
		}
		out[i] = s
	}
	return out
}

// randomOrthonormal builds a D x D orthonormal matrix via Gram-Schmidt over
// a seeded Gaussian draw.
func randomOrthonormal(d int, rng *rand.Rand) [][]float32 {
	rows := make([][]float64, d)
	for i := range rows {
		rows[i] = make([]float64, d)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
	}
	for i := 0; i < d; i++ {
		for k := 0; k < i; k++ {
			dot := dotF64(rows[i], rows[k])
			for j := 0; j < d; j++ {
				rows[i][j] -= dot * rows[k][j]
			}
		}
		norm := normF64(rows[i])
		if norm < 1e-12 {
			norm = 1e-12
		}
		for j := 0; j < d; j++ {
			rows[i][j] /= norm
		}
	}
	out := make([][]float32, d)
	for i := range rows {
		out[i] = make([]float32, d)
		for j := range rows[i] {
			out[i][j] = float32(rows[i][j])
		}
	}
	return out
}

func dotF64(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func normF64(a []float64) float64 {
	return math.Sqrt(dotF64(a, a))
}
