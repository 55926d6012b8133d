// Package controller implements the IQ Controller (C3): a pure function
// that turns per-cell geometry metrics (volumes, surface areas, flags) into
// a zero-sum, clamped, dispersion-bounded
// radius update over typed inputs, with no hidden state.
package controller

import "math"

const epsS = 1e-9
const epsZeroSum = 1e-9

// CellFlag mirrors geometry.Flag's OK/non-OK distinction without importing
// the geometry package, keeping the controller a pure function over plain
// data as spec.md §4.3 requires.
type CellFlag int

const (
	FlagOK CellFlag = iota
	FlagNonOK
)

// Config holds the band and rates the controller uses (spec.md §6).
type Config struct {
	IQMin      float64
	IQMax      float64
	BetaGrow   float64
	BetaShrink float64
	DrCap      float64 // gamma
	RMin       float64
	RMax       float64
	SigmaDisp  float64
	VDom       float64
}

// DefaultConfig returns spec.md §4.3/§6's suggested defaults.
func DefaultConfig() Config {
	return Config{
		IQMin: 0.70, IQMax: 0.90,
		BetaGrow: 0.015, BetaShrink: 0.002,
		DrCap: 0.01,
		RMin:  0.005, RMax: 0.060,
		SigmaDisp: 0.5,
		VDom:      0.5,
	}
}

// sentinelIQ marks a cell excluded from IQ statistics (non-OK or S below
// epsS). It is negative, while every real IQ value is positive, so callers
// can distinguish it without an extra boolean slice.
const sentinelIQ = -1

// Update is the controller's single operation: given per-cell volumes,
// surface areas, flags and previous radii, it returns new radii and the IQ
// computed per cell (sentinelIQ for excluded cells).
func Update(cfg Config, v, s []float64, flags []CellFlag, rPrev []float64) (rNew, iq []float64) {
	n := len(rPrev)
	iq = make([]float64, n)
	dV := make([]float64, n)
	included := make([]bool, n)

	// 1. IQ computation.
	sumV, countIncluded := 0.0, 0
	anyBadFlag := false
	maxV := 0.0
	for i := 0; i < n; i++ {
		if v[i] > maxV {
			maxV = v[i]
		}
		if flags[i] != FlagOK {
			iq[i] = sentinelIQ
			anyBadFlag = true
			continue
		}
		if s[i] <= epsS {
			iq[i] = sentinelIQ
			continue
		}
		iq[i] = 36 * math.Pi * v[i] * v[i] / (s[i] * s[i] * s[i])
		included[i] = true
		sumV += v[i]
		countIncluded++
	}

	if countIncluded == 0 {
		return append([]float64(nil), rPrev...), iq
	}
	meanV := sumV / float64(countIncluded)

	// 2. Banded proposal.
	for i := 0; i < n; i++ {
		if !included[i] {
			continue
		}
		switch {
		case iq[i] < cfg.IQMin:
			dV[i] = cfg.BetaGrow * v[i]
		case iq[i] > cfg.IQMax:
			dV[i] = -cfg.BetaShrink * meanV
		default:
			dV[i] = 0
		}
	}

	// 3. Zero-sum rescale: scale the shrink pool to match the grow pool.
	sPos, sNeg := 0.0, 0.0
	for i := 0; i < n; i++ {
		if dV[i] > 0 {
			sPos += dV[i]
		} else if dV[i] < 0 {
			sNeg += -dV[i]
		}
	}
	if sPos > 0 && sNeg > 0 && math.Abs(sPos-sNeg) > epsZeroSum {
		scale := sPos / sNeg
		for i := 0; i < n; i++ {
			if dV[i] < 0 {
				dV[i] *= scale
			}
		}
	}

	// 4. Convert to radius delta.
	dr := make([]float64, n)
	for i := 0; i < n; i++ {
		if rPrev[i] > 0 {
			dr[i] = dV[i] / (4 * math.Pi * rPrev[i] * rPrev[i])
		}
	}

	// 5a. Dampening when a cell dominates total volume or any flag is bad.
	if maxV > cfg.VDom || anyBadFlag {
		for i := range dr {
			dr[i] *= 0.25
		}
	}

	// 5b. Per-step cap.
	for i := range dr {
		bound := cfg.DrCap * rPrev[i]
		if dr[i] > bound {
			dr[i] = bound
		} else if dr[i] < -bound {
			dr[i] = -bound
		}
	}

	// 5c. Form r_new and clamp to absolute bounds.
	rNew = make([]float64, n)
	for i := range dr {
		rNew[i] = rPrev[i] + dr[i]
		if rNew[i] < cfg.RMin {
			rNew[i] = cfg.RMin
		} else if rNew[i] > cfg.RMax {
			rNew[i] = cfg.RMax
		}
	}

	// 5d. Dispersion guard: renormalise so total radius is conserved.
	if sigma, mean := stddevMean(rNew); mean > 0 && sigma/mean > cfg.SigmaDisp {
		sumPrev, sumNew := sum(rPrev), sum(rNew)
		if sumNew > 0 {
			factor := sumPrev / sumNew
			for i := range rNew {
				rNew[i] *= factor
			}
		}
	}

	return rNew, iq
}

func sum(xs []float64) float64 {
	t := 0.0
	for _, x := range xs {
		t += x
	}
	return t
}

func stddevMean(xs []float64) (stddev, mean float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	mean = sum(xs) / float64(n)
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(n)
	return math.Sqrt(variance), mean
}
