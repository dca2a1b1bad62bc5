package coarse

import (
	"math/rand"
	"testing"

	"github.com/xDarkicex/rii/internal/store"
)

func randomCodewords(m, ks, ds int, seed int64) [][][]float32 {
	rng := rand.New(rand.NewSource(seed))
	cw := make([][][]float32, m)
	for i := range cw {
		cw[i] = make([][]float32, ks)
		for k := range cw[i] {
			v := make([]float32, ds)
			for j := range v {
				v[j] = rng.Float32()
			}
			cw[i][k] = v
		}
	}
	return cw
}

func randomCodes(n, m, ks int, seed int64) [][]uint16 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]uint16, n)
	for i := range rows {
		row := make([]uint16, m)
		for j := range row {
			row[j] = uint16(rng.Intn(ks))
		}
		rows[i] = row
	}
	return rows
}

func TestConfigureShapesAndCoverage(t *testing.T) {
	const n, m, ks = 1000, 4, 20
	codes := store.NewMatrix(m, ks)
	if _, err := codes.AppendRows(randomCodes(n, m, ks, 1)); err != nil {
		t.Fatal(err)
	}
	cw := randomCodewords(m, ks, 10, 2)

	for _, nlist := range []int{5, 100} {
		res, err := Configure(codes, cw, Config{NList: nlist, MaxIterations: 20, Seed: 123})
		if err != nil {
			t.Fatalf("Configure(nlist=%d): %v", nlist, err)
		}
		if res.Centers.Rows() != nlist || res.Centers.Cols() != m {
			t.Fatalf("centers shape = %d x %d, want %d x %d", res.Centers.Rows(), res.Centers.Cols(), nlist, m)
		}
		if len(res.Assignments) != n {
			t.Fatalf("len(assignments) = %d, want %d", len(res.Assignments), n)
		}
		counts := make([]int, nlist)
		for _, c := range res.Assignments {
			if c < 0 || c >= nlist {
				t.Fatalf("assignment %d out of range", c)
			}
			counts[c]++
		}
	}
}

func TestConfigureTooFewItems(t *testing.T) {
	const n, m, ks = 5, 4, 20
	codes := store.NewMatrix(m, ks)
	if _, err := codes.AppendRows(randomCodes(n, m, ks, 1)); err != nil {
		t.Fatal(err)
	}
	cw := randomCodewords(m, ks, 10, 2)

	if _, err := Configure(codes, cw, Config{NList: 10, MaxIterations: 20, Seed: 123}); err != ErrTooFewItems {
		t.Fatalf("got err = %v, want ErrTooFewItems", err)
	}
}
