package geometry

import "math"

// NewPeriodicLaguerreStub returns a deterministic stand-in for the real
// periodic weighted Voronoi routine (out of scope per spec.md §1: "the
// geometry backend's internal algorithms are treated as a function...").
// It approximates each cell's volume from its weight's share of the total
// weight (a periodic Laguerre cell's volume grows with its site's weight)
// and derives a surface area consistent with a near-spherical cell of that
// volume, so IQ values cluster close to 1 for uniform inputs and respond
// monotonically to weight changes — enough behavior for the controller and
// scheduler to be exercised meaningfully without the production backend.
func NewPeriodicLaguerreStub() Backend {
	return BackendFunc(func(points [][3]float64, weights []float64, extract []int) (v, s []float64, f []int, err error) {
		n := len(points)
		if n == 0 || len(weights) != n {
			return nil, nil, nil, nil
		}
		total := 0.0
		for _, w := range weights {
			total += w
		}
		if total <= 0 {
			total = 1
		}
		v = make([]float64, len(extract))
		s = make([]float64, len(extract))
		f = make([]int, len(extract))
		for j, idx := range extract {
			if idx < 0 || idx >= n {
				continue
			}
			vol := weights[idx] / total
			if vol > 1 {
				vol = 1
			}
			// Sphere of volume `vol`: r = (3*vol/4pi)^(1/3), S = 4*pi*r^2.
			r := math.Cbrt(3 * vol / (4 * math.Pi))
			area := 4 * math.Pi * r * r
			v[j] = vol
			s[j] = area
			f[j] = 6
		}
		return v, s, f, nil
	})
}
