package search

// Table is a query-scoped M x Ks asymmetric distance table: table[m][k] is
// the squared distance between the query's m-th sub-vector and the m-th
// sub-quantizer's k-th codeword.
type Table struct {
	m, ks int
	data  [][]float32
}

// Codebook describes the shape a Distance Table Builder needs from a codec:
// codewords and an already-rotated query-splitting width.
type Codebook interface {
	M() int
	Ks() int
	Ds() int
	Codewords() [][][]float32
	Rotate(q []float32) []float32
}

// BuildTable splits a (codec-rotated) query into M sub-vectors of width Ds
// and computes the per-codeword squared distance for each sub-quantizer.
func BuildTable(c Codebook, q []float32) *Table {
	rq := c.Rotate(q)
	m, ks, ds := c.M(), c.Ks(), c.Ds()
	cw := c.Codewords()

	t := &Table{m: m, ks: ks, data: make([][]float32, m)}
	for sub := 0; sub < m; sub++ {
		subVec := rq[sub*ds : (sub+1)*ds]
		row := make([]float32, ks)
		for k := 0; k < ks; k++ {
			row[k] = sqDistTable(subVec, cw[sub][k])
		}
		t.data[sub] = row
	}
	return t
}

// ADC returns the asymmetric distance between the query and a PQ code row.
func (t *Table) ADC(code []uint16) float64 {
	var sum float64
	for sub, row := range t.data {
		sum += float64(row[code[sub]])
	}
	return sum
}

func sqDistTable(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
