// Package geometry implements the Geometry Backend Adapter (C1): it wraps an
// unsafe periodic weighted Voronoi routine with ownership copying, input
// sanitisation, deduplication, batching, crash containment, and output
// sanity clamps, so that a caller never observes anything but a flagged
// Result. Each chunk is processed behind a recovered worker boundary, so one
// bad cell fails only its chunk rather than aborting the whole batch.
package geometry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/99souls/foam/engine/internal/ratelimit"
	internaltracing "github.com/99souls/foam/engine/internal/telemetry/tracing"
)

// Flag classifies a single cell's extraction outcome (spec.md §3).
type Flag int

const (
	FlagOK Flag = iota
	FlagEmpty
	FlagBadVolume
	FlagExtractFail
	FlagGeomFail
	FlagFacetFail
	FlagUnknown
	FlagTriangulationFail
)

func (f Flag) String() string {
	switch f {
	case FlagOK:
		return "OK"
	case FlagEmpty:
		return "EMPTY"
	case FlagBadVolume:
		return "BAD_VOLUME"
	case FlagExtractFail:
		return "EXTRACT_FAIL"
	case FlagGeomFail:
		return "GEOM_FAIL"
	case FlagFacetFail:
		return "FACET_FAIL"
	case FlagTriangulationFail:
		return "TRIANGULATION_FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result is the adapter's per-call output: per-index volume, surface area,
// face count, and status flag, plus the wall-clock time the call took.
type Result struct {
	V         []float64
	S         []float64
	F         []int
	Flags     []Flag
	ElapsedMS float64
}

// totalFailure builds an n-cell result with every flag set to
// TRIANGULATION_FAIL and zero metrics — the adapter's one way of reporting
// "the call did not produce usable geometry" without ever propagating a
// panic or error to the caller.
func totalFailure(n int, elapsedMS float64) Result {
	r := Result{V: make([]float64, n), S: make([]float64, n), F: make([]int, n), Flags: make([]Flag, n), ElapsedMS: elapsedMS}
	for i := range r.Flags {
		r.Flags[i] = FlagTriangulationFail
	}
	return r
}

// Backend is the periodic weighted Voronoi routine the adapter wraps. It is
// told the whole periodic point set (geometry is globally coupled) and the
// subset of indices the caller wants extracted for this invocation; it may
// panic, return partial results, or produce non-finite metrics — the adapter
// treats all three as recoverable.
type Backend interface {
	Compute(points [][3]float64, weights []float64, extract []int) (v, s []float64, f []int, err error)
}

type BackendFunc func(points [][3]float64, weights []float64, extract []int) (v, s []float64, f []int, err error)

func (fn BackendFunc) Compute(points [][3]float64, weights []float64, extract []int) (v, s []float64, f []int, err error) {
	return fn(points, weights, extract)
}

// Config bounds the adapter's validation, sanitisation, and batching
// behavior (spec.md §6: N_max, chunk_max; w_min/w_max are implementation
// defaults for weight sanitisation).
type Config struct {
	NMax     int
	ChunkMax int
	WMin     float64
	WMax     float64
}

// DefaultConfig returns the adapter defaults spec.md §4.1 suggests.
func DefaultConfig() Config {
	return Config{NMax: 100_000, ChunkMax: 512, WMin: 1e-6, WMax: 1e6}
}

const epsWrap = 1e-9

// Adapter wraps a Backend with the nine responsibilities of spec.md §4.1.
type Adapter struct {
	cfg     Config
	backend Backend
	breaker *ratelimit.Breaker
	tracer  internaltracing.Tracer

	initOnce sync.Once
}

// NewAdapter constructs an adapter. breaker may be nil, in which case the
// backend is always invoked (no catastrophe containment). The adapter
// starts with a disabled tracer; call SetTracer to record a span per
// Compute call.
func NewAdapter(cfg Config, backend Backend, breaker *ratelimit.Breaker) *Adapter {
	if cfg.NMax <= 0 {
		cfg.NMax = 100_000
	}
	if cfg.ChunkMax <= 0 {
		cfg.ChunkMax = 512
	}
	if cfg.WMin <= 0 {
		cfg.WMin = 1e-6
	}
	if cfg.WMax <= cfg.WMin {
		cfg.WMax = 1e6
	}
	return &Adapter{cfg: cfg, backend: backend, breaker: breaker, tracer: internaltracing.NewTracer(false)}
}

// SetTracer installs the tracer used to record a span around each Compute
// call. A nil tracer is ignored.
func (a *Adapter) SetTracer(t internaltracing.Tracer) {
	if t != nil {
		a.tracer = t
	}
}

// Compute executes the nine-step pipeline of spec.md §4.1 and never panics
// or returns an error: all failure is encoded in Result.Flags.
func (a *Adapter) Compute(points [][3]float64, weights []float64) Result {
	_, span := a.tracer.StartSpan(context.Background(), "geometry.compute")
	defer span.End()

	start := time.Now()
	a.initOnce.Do(func() {})

	// 1. Ownership copy — the caller's buffers are never touched again.
	n := len(points)
	pts := make([][3]float64, n)
	copy(pts, points)
	w := make([]float64, n)
	copy(w, weights)

	// 2. Input validation.
	if n == 0 {
		return Result{}
	}
	if len(weights) != n || n > a.cfg.NMax {
		return totalFailure(n, msSince(start))
	}

	// 3. Sanitisation.
	sanitizePoints(pts)
	sanitizeWeights(w, a.cfg.WMin, a.cfg.WMax)

	// 4. De-duplication — deterministic micro-jitter keyed by index.
	dedup(pts)

	// 5/6/7/8. Batching + backend invocation + per-batch crash containment +
	// output sanity, with the breaker gating whether the backend is called
	// at all this tick.
	result := Result{V: make([]float64, n), S: make([]float64, n), F: make([]int, n), Flags: make([]Flag, n)}
	for lo := 0; lo < n; lo += a.cfg.ChunkMax {
		hi := lo + a.cfg.ChunkMax
		if hi > n {
			hi = n
		}
		extract := make([]int, hi-lo)
		for i := range extract {
			extract[i] = lo + i
		}
		a.computeBatch(pts, w, extract, &result)
	}

	// 9. Timing.
	result.ElapsedMS = msSince(start)
	span.SetAttribute("elapsed_ms", result.ElapsedMS)
	span.SetAttribute("cells_failed", countFailed(result.Flags))
	return result
}

// countFailed reports how many cells came back with a non-OK flag, for the
// per-call span attribute.
func countFailed(flags []Flag) int {
	n := 0
	for _, f := range flags {
		if f != FlagOK {
			n++
		}
	}
	return n
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// computeBatch invokes the backend for one batch, recovering from a panic
// and reporting crash/success to the breaker (spec.md §4.1 step 6, §9's
// "engineered boundary catches backend crashes"). A crash flags only this
// batch's indices as TRIANGULATION_FAIL; other batches are unaffected — the
// adapter's realization of "per-cell extraction guards" at batch granularity
// rather than one recover() per index, since the backend only returns
// results per batch call.
func (a *Adapter) computeBatch(points [][3]float64, weights []float64, extract []int, out *Result) {
	if a.breaker != nil && !a.breaker.Allow() {
		flagBatch(out, extract, FlagTriangulationFail)
		return
	}
	v, s, f, err, crashed := a.invoke(points, weights, extract)
	if a.breaker != nil {
		a.breaker.Report(ratelimit.Outcome{Crashed: crashed})
	}
	if crashed || err != nil {
		flagBatch(out, extract, FlagTriangulationFail)
		return
	}
	for j, idx := range extract {
		vv, ss, ff := safeFloat(v, j), safeFloat(s, j), safeInt(f, j)
		flag := FlagOK
		switch {
		case vv == 0 && ss == 0:
			flag = FlagEmpty
		case math.IsNaN(vv) || math.IsInf(vv, 0) || math.IsNaN(ss) || math.IsInf(ss, 0):
			flag = FlagBadVolume
			vv, ss, ff = 0, 0, 0
		}
		out.V[idx] = clamp(vv, 0, 1)
		out.S[idx] = clamp(ss, 0, 6)
		out.F[idx] = clampInt(ff, 0, 100)
		out.Flags[idx] = flag
	}
}

func (a *Adapter) invoke(points [][3]float64, weights []float64, extract []int) (v, s []float64, f []int, err error, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
		}
	}()
	v, s, f, err = a.backend.Compute(points, weights, extract)
	return v, s, f, err, false
}

func flagBatch(out *Result, extract []int, flag Flag) {
	for _, idx := range extract {
		out.Flags[idx] = flag
		out.V[idx], out.S[idx], out.F[idx] = 0, 0, 0
	}
}

func safeFloat(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return math.NaN()
	}
	return s[i]
}

func safeInt(s []int, i int) int {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sanitizePoints(pts [][3]float64) {
	for i := range pts {
		for d := 0; d < 3; d++ {
			c := pts[i][d]
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			for c < 0 {
				c += 1
			}
			for c >= 1 {
				c -= 1
			}
			if c >= 1-epsWrap {
				c = 1 - epsWrap
			}
			if c < 0 {
				c = 0
			}
			pts[i][d] = c
		}
	}
}

func sanitizeWeights(w []float64, wMin, wMax float64) {
	for i := range w {
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) || w[i] <= 0 {
			w[i] = wMin
		}
		w[i] = clamp(w[i], wMin, wMax)
	}
}

// dedup displaces exact coincident points by a deterministic, index-keyed
// micro-jitter. Chosen over "flag one of duplicate pair" (spec.md's other
// permitted policy) because it keeps every index eligible for control
// rather than silently dropping one cell from the band.
func dedup(pts [][3]float64) {
	seen := make(map[[3]float64]bool, len(pts))
	for i, p := range pts {
		key := quantize(p)
		if !seen[key] {
			seen[key] = true
			continue
		}
		jitter := 1e-7 * float64(i+1)
		for d := 0; d < 3; d++ {
			c := p[d] + jitter
			for c >= 1 {
				c -= 1
			}
			pts[i][d] = c
		}
		seen[quantize(pts[i])] = true
	}
}

func quantize(p [3]float64) [3]float64 {
	const scale = 1e9
	return [3]float64{
		math.Round(p[0] * scale) / scale,
		math.Round(p[1] * scale) / scale,
		math.Round(p[2] * scale) / scale,
	}
}
