package search

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/xDarkicex/rii/internal/store"
)

type fakeCodec struct {
	m, ks, ds int
	codewords [][][]float32
}

func newFakeCodec(m, ks, ds int, seed int64) *fakeCodec {
	rng := rand.New(rand.NewSource(seed))
	cw := make([][][]float32, m)
	for sub := range cw {
		cw[sub] = make([][]float32, ks)
		for k := range cw[sub] {
			v := make([]float32, ds)
			for j := range v {
				v[j] = rng.Float32()
			}
			cw[sub][k] = v
		}
	}
	return &fakeCodec{m: m, ks: ks, ds: ds, codewords: cw}
}

func (c *fakeCodec) M() int                   { return c.m }
func (c *fakeCodec) Ks() int                  { return c.ks }
func (c *fakeCodec) Ds() int                  { return c.ds }
func (c *fakeCodec) Codewords() [][][]float32 { return c.codewords }
func (c *fakeCodec) Rotate(q []float32) []float32 {
	out := make([]float32, len(q))
	copy(out, q)
	return out
}

func randomCodes(t *testing.T, n, m, ks int, seed int64) *store.Matrix {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]uint16, n)
	for i := range rows {
		row := make([]uint16, m)
		for j := range row {
			row[j] = uint16(rng.Intn(ks))
		}
		rows[i] = row
	}
	mat := store.NewMatrix(m, ks)
	if _, err := mat.AppendRows(rows); err != nil {
		t.Fatal(err)
	}
	return mat
}

func randomQuery(d int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	q := make([]float32, d)
	for i := range q {
		q[i] = rng.Float32()
	}
	return q
}

func TestTopKBoundAndTieBreak(t *testing.T) {
	top := NewTopK(3)
	top.Offer(5, 2.0)
	top.Offer(9, 1.0)
	top.Offer(1, 2.0)
	top.Offer(7, 3.0)
	top.Offer(3, 1.0)

	ids, dists := top.Drain()
	wantIDs := []int64{3, 9, 1}
	wantDists := []float64{1.0, 1.0, 2.0}
	for i := range wantIDs {
		if ids[i] != wantIDs[i] || dists[i] != wantDists[i] {
			t.Fatalf("drain[%d] = (%d, %v), want (%d, %v)", i, ids[i], dists[i], wantIDs[i], wantDists[i])
		}
	}
}

func TestTopKInsertionOrderIndependent(t *testing.T) {
	cands := []Candidate{
		{ID: 4, Distance: 1.5}, {ID: 2, Distance: 1.5}, {ID: 8, Distance: 0.5},
		{ID: 6, Distance: 2.5}, {ID: 0, Distance: 1.5}, {ID: 9, Distance: 0.5},
	}
	var first []int64
	for trial := 0; trial < 10; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		shuffled := append([]Candidate(nil), cands...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		top := NewTopK(4)
		for _, c := range shuffled {
			top.Offer(c.ID, c.Distance)
		}
		ids, _ := top.Drain()
		if first == nil {
			first = ids
			continue
		}
		for i := range ids {
			if ids[i] != first[i] {
				t.Fatalf("trial %d: ids %v differ from %v", trial, ids, first)
			}
		}
	}
}

func TestQueryLinearMatchesReference(t *testing.T) {
	const n, m, ks, ds = 500, 4, 16, 3
	codes := randomCodes(t, n, m, ks, 1)
	c := newFakeCodec(m, ks, ds, 2)
	table := BuildTable(c, randomQuery(m*ds, 3))

	type scored struct {
		id   int64
		dist float64
	}
	ref := make([]scored, n)
	for i := 0; i < n; i++ {
		ref[i] = scored{id: int64(i), dist: table.ADC(codes.Row(i))}
	}
	sort.Slice(ref, func(i, j int) bool {
		if ref[i].dist != ref[j].dist {
			return ref[i].dist < ref[j].dist
		}
		return ref[i].id < ref[j].id
	})

	const topk = 25
	ids, dists := QueryLinear(table, codes, topk, nil)
	if len(ids) != topk {
		t.Fatalf("got %d results, want %d", len(ids), topk)
	}
	for i := 0; i < topk; i++ {
		if ids[i] != ref[i].id || dists[i] != ref[i].dist {
			t.Fatalf("result[%d] = (%d, %v), want (%d, %v)", i, ids[i], dists[i], ref[i].id, ref[i].dist)
		}
	}
}

func TestQueryLinearTargetIDs(t *testing.T) {
	const n, m, ks, ds = 100, 4, 16, 3
	codes := randomCodes(t, n, m, ks, 1)
	c := newFakeCodec(m, ks, ds, 2)
	table := BuildTable(c, randomQuery(m*ds, 3))

	targets := []int64{3, 17, 55, 99, 500} // 500 is out of range and skipped
	ids, _ := QueryLinear(table, codes, 10, targets)
	if len(ids) != 4 {
		t.Fatalf("got %d results, want 4", len(ids))
	}
	allowed := map[int64]bool{3: true, 17: true, 55: true, 99: true}
	for _, id := range ids {
		if !allowed[id] {
			t.Fatalf("id %d not in target set", id)
		}
	}
}

func TestQueryIVFEqualsLinearWhenLSaturates(t *testing.T) {
	const n, m, ks, ds, nlist = 400, 4, 16, 3, 8
	codes := randomCodes(t, n, m, ks, 1)
	centers := randomCodes(t, nlist, m, ks, 4)
	c := newFakeCodec(m, ks, ds, 2)

	rng := rand.New(rand.NewSource(5))
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = rng.Intn(nlist)
	}
	postings := store.NewPostingLists(nlist)
	postings.Rebuild(nlist, assignments)

	for trial := int64(0); trial < 5; trial++ {
		table := BuildTable(c, randomQuery(m*ds, 10+trial))

		linIDs, linDists := QueryLinear(table, codes, 10, nil)
		ivfIDs, ivfDists := QueryIVF(table, centers, postings, codes, 10, nil, n)
		for i := range linIDs {
			if ivfIDs[i] != linIDs[i] || ivfDists[i] != linDists[i] {
				t.Fatalf("trial %d: ivf[%d] = (%d, %v), linear = (%d, %v)",
					trial, i, ivfIDs[i], ivfDists[i], linIDs[i], linDists[i])
			}
		}

		subset := []int64{1, 9, 33, 77, 130, 256, 399}
		linIDs, linDists = QueryLinear(table, codes, 5, subset)
		ivfIDs, ivfDists = QueryIVF(table, centers, postings, codes, 5, subset, n)
		for i := range linIDs {
			if ivfIDs[i] != linIDs[i] || ivfDists[i] != linDists[i] {
				t.Fatalf("trial %d subset: ivf[%d] = (%d, %v), linear = (%d, %v)",
					trial, i, ivfIDs[i], ivfDists[i], linIDs[i], linDists[i])
			}
		}
	}
}

func TestQueryIVFStopsAtL(t *testing.T) {
	const n, m, ks, ds, nlist = 400, 4, 16, 3, 8
	codes := randomCodes(t, n, m, ks, 1)
	centers := randomCodes(t, nlist, m, ks, 4)
	c := newFakeCodec(m, ks, ds, 2)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = i % nlist
	}
	postings := store.NewPostingLists(nlist)
	postings.Rebuild(nlist, assignments)

	table := BuildTable(c, randomQuery(m*ds, 9))
	ids, dists := QueryIVF(table, centers, postings, codes, 10, nil, 60)
	if len(ids) != 10 {
		t.Fatalf("got %d results, want 10", len(ids))
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] < dists[i-1] {
			t.Fatalf("distances not non-decreasing at %d", i)
		}
	}

	// every list holds 50 ids, so L=60 is reached after the two nearest
	// clusters; no id from a farther cluster may be returned
	order := make([]int, nlist)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return table.ADC(centers.Row(order[i])) < table.ADC(centers.Row(order[j]))
	})
	scanned := map[int]bool{order[0]: true, order[1]: true}
	for _, id := range ids {
		if !scanned[int(id)%nlist] {
			t.Fatalf("id %d from cluster %d, beyond the two nearest %v", id, int(id)%nlist, order[:2])
		}
	}
}

func TestBuildTableADC(t *testing.T) {
	const m, ks, ds = 2, 4, 2
	c := newFakeCodec(m, ks, ds, 7)
	q := randomQuery(m*ds, 8)
	table := BuildTable(c, q)

	code := []uint16{3, 1}
	var want float64
	for sub := 0; sub < m; sub++ {
		var s float32
		for j := 0; j < ds; j++ {
			d := q[sub*ds+j] - c.codewords[sub][code[sub]][j]
			s += d * d
		}
		want += float64(s)
	}
	if got := table.ADC(code); got != want {
		t.Fatalf("ADC = %v, want %v", got, want)
	}
}

func TestAutoLClamps(t *testing.T) {
	if l := AutoL(10, 5, 20); l != 5 {
		t.Fatalf("AutoL clamp high = %d, want 5", l)
	}
	if l := AutoL(10, 10000, 0); l < 10 {
		t.Fatalf("AutoL = %d, want >= topk", l)
	}
	if l := AutoL(10, 10000, 100); l < 10 || l > 10000 {
		t.Fatalf("AutoL = %d out of [10, 10000]", l)
	}
}

func TestDefaultThresholdBounds(t *testing.T) {
	if th := DefaultThreshold(1000, 0); th != 1000 {
		t.Fatalf("no clusters: threshold = %v, want 1000", th)
	}
	th := DefaultThreshold(1000, 10)
	if th < 1 || th > 1000 {
		t.Fatalf("threshold = %v out of [1, 1000]", th)
	}
}

func TestCalibrate(t *testing.T) {
	samples := []int{10, 100, 1000}
	slowLinear := func(s int) time.Duration { return time.Duration(s) * time.Microsecond }
	fastIVF := func(s int) time.Duration { return time.Microsecond }
	if th := Calibrate(5000, samples, slowLinear, fastIVF); th != 10 {
		t.Fatalf("ivf always wins: threshold = %v, want 10", th)
	}

	slowIVF := func(s int) time.Duration { return time.Second }
	if th := Calibrate(5000, samples, slowLinear, slowIVF); th != 5000 {
		t.Fatalf("ivf never wins: threshold = %v, want 5000", th)
	}

	crossover := func(s int) time.Duration {
		if s >= 100 {
			return time.Microsecond
		}
		return time.Millisecond
	}
	if th := Calibrate(5000, samples, slowLinear, crossover); th != 100 {
		t.Fatalf("crossover threshold = %v, want 100", th)
	}
}
