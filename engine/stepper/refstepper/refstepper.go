// Package refstepper provides a minimal, deterministic Stepper
// implementation used for tests and as the foamctl CLI's demonstration
// dynamics source. It has no physics of its own: positions drift along one
// fixed velocity shared by all particles and wrap periodically, which is enough to
// exercise the scheduler's per-tick contract without depending on a real
// simulation engine.
package refstepper

import "math"

// Config seeds the reference stepper's initial particle layout.
type Config struct {
	N         int
	InitialR  float64
	Velocity  [3]float64 // per-tick displacement applied to every particle
}

// DefaultConfig returns a small, slow-moving configuration suitable for
// tests and demos.
func DefaultConfig(n int) Config {
	return Config{N: n, InitialR: 0.02, Velocity: [3]float64{0.0001, 0.00007, 0.00005}}
}

// Stepper is a deterministic reference implementation of stepper.Stepper.
type Stepper struct {
	cfg      Config
	points   [][3]float64
	radii    []float64
	frozen   bool
}

// New builds a reference stepper with N particles laid out on a
// deterministic lattice-like spread across the unit cube.
func New(cfg Config) *Stepper {
	if cfg.N <= 0 {
		cfg.N = 1
	}
	if cfg.InitialR <= 0 {
		cfg.InitialR = 0.02
	}
	points := make([][3]float64, cfg.N)
	radii := make([]float64, cfg.N)
	for i := range points {
		f := float64(i) / float64(cfg.N)
		points[i] = [3]float64{
			frac(f * 1.61803398875),
			frac(f * 2.41421356237),
			frac(f * 3.14159265359),
		}
		radii[i] = cfg.InitialR
	}
	return &Stepper{cfg: cfg, points: points, radii: radii}
}

func frac(x float64) float64 {
	_, f := math.Modf(x)
	if f < 0 {
		f += 1
	}
	return f
}

func (s *Stepper) Positions01() [][3]float64 {
	out := make([][3]float64, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Stepper) Radii() []float64 {
	out := make([]float64, len(s.radii))
	copy(out, s.radii)
	return out
}

func (s *Stepper) SetRadii(values []float64) {
	n := len(s.radii)
	if len(values) != n {
		return
	}
	copy(s.radii, values)
}

// RelaxStep advances every particle by the configured velocity, wrapping
// into [0,1). It always advances, even while logically frozen, per spec.md
// §9's "always advance" resolution.
func (s *Stepper) RelaxStep() {
	for i := range s.points {
		for d := 0; d < 3; d++ {
			s.points[i][d] = frac(s.points[i][d] + s.cfg.Velocity[d])
		}
	}
}

func (s *Stepper) Freeze()  { s.frozen = true }
func (s *Stepper) Resume()  { s.frozen = false }
func (s *Stepper) Frozen() bool { return s.frozen }
