package refstepper

import "testing"

func TestNewLaysOutDistinctPositions(t *testing.T) {
	s := New(DefaultConfig(4))
	pts := s.Positions01()
	if len(pts) != 4 {
		t.Fatalf("expected 4 particles, got %d", len(pts))
	}
	seen := map[[3]float64]bool{}
	for _, p := range pts {
		for d := 0; d < 3; d++ {
			if p[d] < 0 || p[d] >= 1 {
				t.Fatalf("position coordinate out of [0,1): %v", p[d])
			}
		}
		seen[p] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected distinct positions, got %d unique of 4", len(seen))
	}
}

func TestPositionsAreOwnedCopies(t *testing.T) {
	s := New(DefaultConfig(3))
	pts := s.Positions01()
	pts[0][0] = 0.999
	pts2 := s.Positions01()
	if pts2[0][0] == 0.999 {
		t.Fatalf("mutating returned slice must not affect stepper state")
	}
}

func TestSetRadiiRoundTrips(t *testing.T) {
	s := New(DefaultConfig(3))
	want := []float64{0.01, 0.02, 0.03}
	s.SetRadii(want)
	got := s.Radii()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("radius %d: want %v got %v", i, want[i], got[i])
		}
	}
}

func TestRelaxStepAdvancesPositionsAndWraps(t *testing.T) {
	s := New(Config{N: 1, InitialR: 0.02, Velocity: [3]float64{0.5, 0, 0}})
	before := s.Positions01()[0]
	s.RelaxStep()
	after := s.Positions01()[0]
	if after[0] == before[0] {
		t.Fatalf("expected position to advance")
	}
	s.RelaxStep()
	wrapped := s.Positions01()[0]
	if wrapped[0] < 0 || wrapped[0] >= 1 {
		t.Fatalf("expected wrapped coordinate in [0,1), got %v", wrapped[0])
	}
}

func TestFreezeResumeTogglesFlag(t *testing.T) {
	s := New(DefaultConfig(1))
	if s.Frozen() {
		t.Fatalf("expected not frozen initially")
	}
	s.Freeze()
	if !s.Frozen() {
		t.Fatalf("expected frozen after Freeze")
	}
	s.Resume()
	if s.Frozen() {
		t.Fatalf("expected not frozen after Resume")
	}
}
