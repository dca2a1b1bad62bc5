// Package codec implements the external PQ/OPQ collaborator a rii engine is
// constructed with. The engine never trains a codec and never inspects its
// codewords except through the distance-table builder; training lives here
// so the rest of the module has a concrete, fittable codec to work with.
package codec

import "fmt"

// Codec is the contract an engine requires of its quantizer. Concrete
// implementations are PQ (plain) and OPQ (pre-rotated).
type Codec interface {
	// M is the number of sub-quantizers.
	M() int
	// Ks is the codebook size per sub-quantizer.
	Ks() int
	// Ds is the sub-vector width, D/M.
	Ds() int
	// D is the full vector dimension, M*Ds.
	D() int
	// Encode maps raw D-dimensional vectors to M-wide rows of codes in
	// [0, Ks). Any declared rotation is applied internally before encoding.
	Encode(raw [][]float32) ([][]uint16, error)
	// Codewords returns the M x Ks x Ds codebook tensor. Callers must treat
	// the result as read-only.
	Codewords() [][][]float32
	// Rotate applies the codec's declared pre-rotation (identity for plain
	// PQ) to a query vector before it is split into sub-vectors. The core
	// must call this before building a distance table.
	Rotate(q []float32) []float32
}

// ErrDimensionMismatch is returned when Encode receives vectors whose
// length does not match D.
var ErrDimensionMismatch = fmt.Errorf("codec: vector dimension mismatch")

func validateDims(d, m, ks int) error {
	if m <= 0 {
		return fmt.Errorf("codec: M must be positive, got %d", m)
	}
	if ks <= 0 {
		return fmt.Errorf("codec: Ks must be positive, got %d", ks)
	}
	if d <= 0 {
		return fmt.Errorf("codec: D must be positive, got %d", d)
	}
	if d%m != 0 {
		return fmt.Errorf("codec: D=%d is not divisible by M=%d", d, m)
	}
	return nil
}
