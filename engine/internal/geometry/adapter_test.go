package geometry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/99souls/foam/engine/internal/ratelimit"
)

func uniformPoints(n int) ([][3]float64, []float64) {
	pts := make([][3]float64, n)
	w := make([]float64, n)
	for i := range pts {
		f := float64(i) / float64(n)
		pts[i] = [3]float64{f, f, f}
		w[i] = 1
	}
	return pts, w
}

func TestAdapterHappyPath(t *testing.T) {
	a := NewAdapter(DefaultConfig(), NewPeriodicLaguerreStub(), nil)
	pts, w := uniformPoints(8)
	res := a.Compute(pts, w)
	if len(res.Flags) != 8 {
		t.Fatalf("expected 8 cells, got %d", len(res.Flags))
	}
	for i, f := range res.Flags {
		if f != FlagOK {
			t.Fatalf("cell %d expected OK got %s", i, f)
		}
	}
}

func TestAdapterRejectsOversizedInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NMax = 4
	a := NewAdapter(cfg, NewPeriodicLaguerreStub(), nil)
	pts, w := uniformPoints(5)
	res := a.Compute(pts, w)
	for _, f := range res.Flags {
		if f != FlagTriangulationFail {
			t.Fatalf("expected total failure for oversized input, got %s", f)
		}
	}
}

func TestAdapterSanitizesNonFiniteCoordinates(t *testing.T) {
	a := NewAdapter(DefaultConfig(), NewPeriodicLaguerreStub(), nil)
	pts := [][3]float64{{math.NaN(), 1.5, -0.25}, {0.1, 0.2, 0.3}}
	w := []float64{math.Inf(1), 0}
	res := a.Compute(pts, w)
	if len(res.Flags) != 2 {
		t.Fatalf("expected 2 cells")
	}
	for _, f := range res.Flags {
		if f != FlagOK {
			t.Fatalf("expected sanitized input to still compute OK, got %s", f)
		}
	}
}

func TestAdapterDedupesCoincidentPoints(t *testing.T) {
	a := NewAdapter(DefaultConfig(), NewPeriodicLaguerreStub(), nil)
	pts := [][3]float64{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}}
	w := []float64{1, 1, 1}
	res := a.Compute(pts, w)
	for _, f := range res.Flags {
		if f != FlagOK {
			t.Fatalf("expected dedup to still allow computation, got %s", f)
		}
	}
}

func TestAdapterBatchesAboveChunkMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkMax = 3
	calls := 0
	backend := BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		calls++
		v := make([]float64, len(extract))
		s := make([]float64, len(extract))
		f := make([]int, len(extract))
		for i := range extract {
			v[i], s[i], f[i] = 0.1, 1.0, 6
		}
		return v, s, f, nil
	})
	a := NewAdapter(cfg, backend, nil)
	pts, w := uniformPoints(10)
	res := a.Compute(pts, w)
	if calls != 4 {
		t.Fatalf("expected 4 batches for 10 points at chunk 3, got %d", calls)
	}
	for _, f := range res.Flags {
		if f != FlagOK {
			t.Fatalf("expected OK across all batches, got %s", f)
		}
	}
}

func TestAdapterContainsBackendPanic(t *testing.T) {
	backend := BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		panic("backend exploded")
	})
	a := NewAdapter(DefaultConfig(), backend, nil)
	pts, w := uniformPoints(4)
	res := a.Compute(pts, w)
	for _, f := range res.Flags {
		if f != FlagTriangulationFail {
			t.Fatalf("expected TRIANGULATION_FAIL after panic, got %s", f)
		}
	}
}

func TestAdapterContainsBackendError(t *testing.T) {
	backend := BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		return nil, nil, nil, errors.New("backend crash")
	})
	a := NewAdapter(DefaultConfig(), backend, nil)
	pts, w := uniformPoints(4)
	res := a.Compute(pts, w)
	for _, f := range res.Flags {
		if f != FlagTriangulationFail {
			t.Fatalf("expected TRIANGULATION_FAIL after backend error, got %s", f)
		}
	}
}

func TestAdapterClampsOutOfRangeMetrics(t *testing.T) {
	backend := BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		v := make([]float64, len(extract))
		s := make([]float64, len(extract))
		f := make([]int, len(extract))
		for i := range extract {
			v[i], s[i], f[i] = 5.0, 50.0, 500
		}
		return v, s, f, nil
	})
	a := NewAdapter(DefaultConfig(), backend, nil)
	pts, w := uniformPoints(2)
	res := a.Compute(pts, w)
	for i := range res.V {
		if res.V[i] > 1 {
			t.Fatalf("expected V clamped to 1, got %v", res.V[i])
		}
		if res.S[i] > 6 {
			t.Fatalf("expected S clamped to 6, got %v", res.S[i])
		}
		if res.F[i] > 100 {
			t.Fatalf("expected F clamped to 100, got %v", res.F[i])
		}
	}
}

func TestAdapterEmptyInputIsNotAFailure(t *testing.T) {
	a := NewAdapter(DefaultConfig(), NewPeriodicLaguerreStub(), nil)
	res := a.Compute(nil, nil)
	if len(res.Flags) != 0 {
		t.Fatalf("expected no cells for empty input, got %d", len(res.Flags))
	}
}

func TestAdapterBreakerSkipsCallsWhileOpen(t *testing.T) {
	breaker := ratelimit.NewBreaker(1, time.Hour)
	backend := BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		panic("always crashes")
	})
	a := NewAdapter(DefaultConfig(), backend, breaker)
	pts, w := uniformPoints(2)
	a.Compute(pts, w) // trips the breaker
	if breaker.Snapshot().State != ratelimit.StateOpen {
		t.Fatalf("expected breaker open after crash")
	}
	res := a.Compute(pts, w) // breaker open, backend must not be invoked again
	for _, f := range res.Flags {
		if f != FlagTriangulationFail {
			t.Fatalf("expected total failure while breaker open, got %s", f)
		}
	}
}
