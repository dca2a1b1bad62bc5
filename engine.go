// Package rii implements a reconfigurable inverted-index approximate
// nearest-neighbor engine over product-quantized vectors. Database vectors
// are held only as PQ codes; coarse cluster centers are themselves PQ
// codes, so the coarse and fine stages of a query share one asymmetric
// distance table. Queries run either as an exhaustive ADC scan or as a
// coarse-pruned inverted-file scan, selected per call by a calibrated
// planner.
package rii

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/xDarkicex/rii/internal/coarse"
	"github.com/xDarkicex/rii/internal/codec"
	"github.com/xDarkicex/rii/internal/obs"
	"github.com/xDarkicex/rii/internal/search"
	"github.com/xDarkicex/rii/internal/store"
)

var (
	metricsOnce   sync.Once
	sharedMetrics *obs.Metrics
)

// engineMetrics returns the process-wide instrument set. Instruments
// register once against the default registry no matter how many engines a
// process constructs.
func engineMetrics() *obs.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = obs.NewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// Engine is a single reconfigurable PQ search index. It is single-writer,
// multi-reader: Append, Configure, AppendAndConfigure, Clear, and Restore
// take the write lock; queries take the read lock and never mutate the
// index beyond the planner's write-once threshold cache.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	codes    *store.Matrix
	centers  *store.Matrix
	postings *store.PostingLists
	sym      *coarse.SymmetricTable

	thresholdMu  sync.Mutex
	threshold    float64
	thresholdSet bool

	metrics *obs.Metrics
}

// New constructs an empty engine around a fitted codec.
func New(c codec.Codec, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrInvalidArgument)
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	e := &Engine{
		cfg:      *cfg,
		codec:    c,
		codes:    store.NewMatrix(c.M(), c.Ks()),
		centers:  store.NewMatrix(c.M(), c.Ks()),
		postings: store.NewPostingLists(0),
	}
	e.log = logger.Level(zerolog.InfoLevel)
	if cfg.Verbose {
		e.log = logger.Level(zerolog.DebugLevel)
	}
	if cfg.MetricsEnabled {
		e.metrics = engineMetrics()
	}
	return e, nil
}

// M reports the codec's sub-quantizer count.
func (e *Engine) M() int { return e.codec.M() }

// Ks reports the codec's per-sub-quantizer codebook size.
func (e *Engine) Ks() int { return e.codec.Ks() }

// D reports the raw vector dimensionality.
func (e *Engine) D() int { return e.codec.D() }

// N reports the number of indexed items.
func (e *Engine) N() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.codes.Rows()
}

// NList reports the number of coarse clusters, zero before Configure.
func (e *Engine) NList() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.centers.Rows()
}

// Threshold reports the planner's calibrated break-even candidate-set size
// and whether it has been set.
func (e *Engine) Threshold() (float64, bool) {
	e.thresholdMu.Lock()
	defer e.thresholdMu.Unlock()
	return e.threshold, e.thresholdSet
}

// SetVerbose toggles per-operation debug logging.
func (e *Engine) SetVerbose(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Verbose = enabled
	if enabled {
		e.log = logger.Level(zerolog.DebugLevel)
	} else {
		e.log = logger.Level(zerolog.InfoLevel)
	}
}

// Append encodes raw vectors through the codec and appends them to the
// code store. When updatePostingLists is true and the engine is already
// configured, each new item is also assigned to its nearest coarse center;
// otherwise the posting lists are left stale until the next Configure.
func (e *Engine) Append(raw [][]float32, updatePostingLists bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendLocked(raw, updatePostingLists)
}

func (e *Engine) appendLocked(raw [][]float32, updatePostingLists bool) error {
	d := e.codec.D()
	for _, v := range raw {
		if len(v) != d {
			return fmt.Errorf("%w: got width %d, want %d", ErrShapeMismatch, len(v), d)
		}
	}
	rows, err := e.codec.Encode(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	start, err := e.codes.AppendRows(rows)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	if updatePostingLists && e.centers.Rows() > 0 {
		for i, row := range rows {
			cluster := e.sym.Nearest(row, e.centers)
			e.postings.AppendTo(cluster, int64(start+i))
		}
	}

	if e.metrics != nil {
		e.metrics.Appends.Inc()
	}
	e.log.Debug().Int("added", len(rows)).Int("n", e.codes.Rows()).
		Bool("update_posting_lists", updatePostingLists).Msg("append")
	return nil
}

// Configure rebuilds the coarse centers and posting lists from the current
// code store by running k-means in PQ-code space. A prior coarse structure
// is discarded; identifiers are preserved but their cluster assignment
// changes.
func (e *Engine) Configure(nlist int, opts ...ConfigureOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configureLocked(nlist, opts...)
}

func (e *Engine) configureLocked(nlist int, opts ...ConfigureOption) error {
	if nlist < 1 {
		return fmt.Errorf("%w: nlist must be positive, got %d", ErrInvalidArgument, nlist)
	}
	o := configureOptions{iterations: e.cfg.MaxIterations, seed: e.cfg.RandomSeed}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	res, err := coarse.Configure(e.codes, e.codec.Codewords(), coarse.Config{
		NList:         nlist,
		MaxIterations: o.iterations,
		Seed:          o.seed,
	})
	if err != nil {
		if err == coarse.ErrTooFewItems {
			return fmt.Errorf("%w: have %d items, want >= %d", ErrTooFewItems, e.codes.Rows(), nlist)
		}
		return err
	}

	e.centers = res.Centers
	e.postings.Rebuild(nlist, res.Assignments)
	e.sym = coarse.NewSymmetricTable(e.codec.Codewords())

	// nlist changed, so any calibrated break-even point is stale.
	e.thresholdMu.Lock()
	e.threshold, e.thresholdSet = 0, false
	e.thresholdMu.Unlock()

	if e.metrics != nil {
		e.metrics.Configures.Inc()
	}
	e.log.Debug().Int("nlist", nlist).Int("n", e.codes.Rows()).
		Dur("elapsed", time.Since(start)).Msg("configure")
	return nil
}

// AppendAndConfigure appends raw vectors without touching posting lists,
// then rebuilds the coarse structure. The resulting state is identical to
// calling Append(raw, false) followed by Configure(nlist). The engine is
// returned for chaining.
func (e *Engine) AppendAndConfigure(raw [][]float32, nlist int, opts ...ConfigureOption) (*Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.appendLocked(raw, false); err != nil {
		return e, err
	}
	return e, e.configureLocked(nlist, opts...)
}

// Clear resets the engine to its empty constructed state, preserving only
// the codec reference and configuration.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes.Reset()
	e.centers.Reset()
	e.postings.Clear()
	e.sym = nil
	e.thresholdMu.Lock()
	e.threshold, e.thresholdSet = 0, false
	e.thresholdMu.Unlock()
	e.log.Debug().Msg("clear")
}

// QueryLinear runs an exhaustive ADC scan over all items, or over exactly
// targetIDs when non-empty, and returns the topk nearest identifiers with
// their squared distances, ascending. Out-of-range identifiers in
// targetIDs are skipped; negative ones are an error.
func (e *Engine) QueryLinear(q []float32, topk int, targetIDs []int64) ([]int64, []float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkQuery(q, topk, targetIDs); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	table := search.BuildTable(e.codec, q)
	ids, dists := search.QueryLinear(table, e.codes, topk, targetIDs)
	e.observeQuery(true, start)
	return ids, dists, nil
}

// QueryIVF runs the coarse-pruned scan: coarse centers are ranked by ADC
// distance to the query, and their posting lists are accumulated in that
// order until at least l fine candidates have been gathered, then scanned
// like QueryLinear.
func (e *Engine) QueryIVF(q []float32, topk int, targetIDs []int64, l int) ([]int64, []float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkQuery(q, topk, targetIDs); err != nil {
		return nil, nil, err
	}
	if e.centers.Rows() == 0 {
		return nil, nil, e.queryErr(ErrNotConfigured)
	}
	if l < 1 {
		return nil, nil, e.queryErr(fmt.Errorf("%w: L must be positive, got %d", ErrInvalidArgument, l))
	}
	start := time.Now()
	table := search.BuildTable(e.codec, q)
	ids, dists := search.QueryIVF(table, e.centers, e.postings, e.codes, topk, targetIDs, l)
	e.observeQuery(false, start)
	return ids, dists, nil
}

// Query dispatches to QueryLinear or QueryIVF based on the candidate-set
// size and the calibrated threshold. The first planned query calibrates
// the threshold by timing both scanners at a few candidate-set sizes;
// the result is cached on the engine.
func (e *Engine) Query(q []float32, topk int, targetIDs []int64, opts ...QueryOption) ([]int64, []float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.checkQuery(q, topk, targetIDs); err != nil {
		return nil, nil, err
	}
	if e.centers.Rows() == 0 {
		return nil, nil, e.queryErr(ErrNotConfigured)
	}
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lSet && o.l < 1 {
		return nil, nil, e.queryErr(fmt.Errorf("%w: L must be positive, got %d", ErrInvalidArgument, o.l))
	}

	n := e.codes.Rows()
	s := n
	if len(targetIDs) > 0 {
		s = len(targetIDs)
	}

	table := search.BuildTable(e.codec, q)
	threshold := e.ensureThreshold(table, topk)

	start := time.Now()
	if float64(s) < threshold {
		ids, dists := search.QueryLinear(table, e.codes, topk, targetIDs)
		e.observeQuery(true, start)
		return ids, dists, nil
	}
	l := o.l
	if !o.lSet {
		l = search.AutoL(topk, s, e.centers.Rows())
	}
	ids, dists := search.QueryIVF(table, e.centers, e.postings, e.codes, topk, targetIDs, l)
	e.observeQuery(false, start)
	return ids, dists, nil
}

// ensureThreshold returns the planner threshold, calibrating it on first
// use. Calibration times both scanners at a few candidate-set sizes using
// the live query's distance table; the first calibration wins and is
// cached until the next Configure or Clear.
func (e *Engine) ensureThreshold(table *search.Table, topk int) float64 {
	e.thresholdMu.Lock()
	defer e.thresholdMu.Unlock()
	if e.thresholdSet {
		return e.threshold
	}

	n := e.codes.Rows()
	nlist := e.centers.Rows()
	samples := calibrationSamples(n, topk)
	if len(samples) == 0 {
		e.threshold = search.DefaultThreshold(n, nlist)
	} else {
		linear := func(s int) time.Duration {
			start := time.Now()
			search.QueryLinear(table, e.codes, topk, prefixIDs(s))
			return time.Since(start)
		}
		ivf := func(s int) time.Duration {
			start := time.Now()
			l := search.AutoL(topk, s, nlist)
			search.QueryIVF(table, e.centers, e.postings, e.codes, topk, prefixIDs(s), l)
			return time.Since(start)
		}
		e.threshold = search.Calibrate(n, samples, linear, ivf)
	}
	e.thresholdSet = true
	e.log.Debug().Float64("threshold", e.threshold).Msg("planner calibrated")
	return e.threshold
}

// calibrationSamples picks a few ascending candidate-set sizes to time the
// scanners at, all at least topk and at most n.
func calibrationSamples(n, topk int) []int {
	var out []int
	last := 0
	for _, s := range []int{n / 32, n / 8, n / 2, n} {
		if s < topk {
			s = topk
		}
		if s > n {
			s = n
		}
		if s > last {
			out = append(out, s)
			last = s
		}
	}
	return out
}

func prefixIDs(s int) []int64 {
	ids := make([]int64, s)
	for i := range ids {
		ids[i] = int64(i)
	}
	return ids
}

// checkQuery validates the arguments shared by all three query paths.
// Callers hold at least the read lock.
func (e *Engine) checkQuery(q []float32, topk int, targetIDs []int64) error {
	if e.codes.Rows() == 0 {
		return e.queryErr(ErrEmptyIndex)
	}
	if topk < 1 {
		return e.queryErr(fmt.Errorf("%w: topk must be positive, got %d", ErrInvalidArgument, topk))
	}
	if len(q) != e.codec.D() {
		return e.queryErr(fmt.Errorf("%w: query width %d, want %d", ErrShapeMismatch, len(q), e.codec.D()))
	}
	for _, id := range targetIDs {
		if id < 0 {
			return e.queryErr(fmt.Errorf("%w: negative target id %d", ErrInvalidArgument, id))
		}
	}
	return nil
}

func (e *Engine) queryErr(err error) error {
	if e.metrics != nil {
		e.metrics.QueryErrors.Inc()
	}
	return err
}

func (e *Engine) observeQuery(linear bool, start time.Time) {
	if e.metrics == nil {
		return
	}
	if linear {
		e.metrics.LinearQueries.Inc()
	} else {
		e.metrics.IVFQueries.Inc()
	}
	e.metrics.QueryLatency.Observe(time.Since(start).Seconds())
}
