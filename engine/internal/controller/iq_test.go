package controller

import "testing"

func approxEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestUpdateAllFlaggedLeavesRadiiUnchanged(t *testing.T) {
	rPrev := []float64{0.02, 0.02, 0.02, 0.02}
	flags := []CellFlag{FlagNonOK, FlagNonOK, FlagNonOK, FlagNonOK}
	v := []float64{0, 0, 0, 0}
	s := []float64{0, 0, 0, 0}
	rNew, iq := Update(DefaultConfig(), v, s, flags, rPrev)
	for i := range rNew {
		if rNew[i] != rPrev[i] {
			t.Fatalf("expected unchanged radius at %d, got %v vs %v", i, rNew[i], rPrev[i])
		}
		if iq[i] != sentinelIQ {
			t.Fatalf("expected sentinel IQ at %d", i)
		}
	}
}

func TestUpdateSingleGrower(t *testing.T) {
	cfg := Config{IQMin: 0.70, IQMax: 0.90, BetaGrow: 0.015, BetaShrink: 0.002, DrCap: 0.01, RMin: 0.005, RMax: 0.060, SigmaDisp: 0.5, VDom: 0.5}
	v := []float64{0.10, 0.30, 0.30}
	s := []float64{2.0, 1.5, 1.5}
	flags := []CellFlag{FlagOK, FlagOK, FlagOK}
	rPrev := []float64{0.02, 0.02, 0.02}
	rNew, iq := Update(cfg, v, s, flags, rPrev)

	if iq[0] >= cfg.IQMin {
		t.Fatalf("expected cell 0 below band, got IQ=%v", iq[0])
	}
	if iq[1] <= cfg.IQMax || iq[2] <= cfg.IQMax {
		t.Fatalf("expected cells 1,2 above band, got IQ=%v,%v", iq[1], iq[2])
	}
	if rNew[0] <= rPrev[0] {
		t.Fatalf("expected grower radius to increase, got %v vs %v", rNew[0], rPrev[0])
	}
	if rNew[1] >= rPrev[1] || rNew[2] >= rPrev[2] {
		t.Fatalf("expected shrinkers to decrease, got %v,%v vs %v", rNew[1], rNew[2], rPrev[1])
	}
	for i := range rNew {
		bound := cfg.DrCap * rPrev[i] * 1.01
		dr := rNew[i] - rPrev[i]
		if dr > bound || dr < -bound {
			t.Fatalf("cell %d exceeded per-step cap: dr=%v bound=%v", i, dr, bound)
		}
		if rNew[i] < cfg.RMin || rNew[i] > cfg.RMax {
			t.Fatalf("cell %d radius out of bounds: %v", i, rNew[i])
		}
	}
}

func TestUpdateDominantCellTriggersDampening(t *testing.T) {
	cfg := DefaultConfig()
	vDominant := []float64{0.6, 0.2, 0.2}
	vNormal := []float64{0.10, 0.30, 0.30}
	s := []float64{2.0, 1.5, 1.5}
	flags := []CellFlag{FlagOK, FlagOK, FlagOK}
	rPrev := []float64{0.02, 0.02, 0.02}

	rNewDominant, _ := Update(cfg, vDominant, s, flags, rPrev)
	rNewNormal, _ := Update(cfg, vNormal, s, flags, rPrev)

	drDominant := rNewDominant[0] - rPrev[0]
	drNormal := rNewNormal[0] - rPrev[0]
	if drNormal == 0 {
		t.Skip("baseline produced no delta to compare dampening against")
	}
	ratio := drDominant / drNormal
	if !approxEqual(ratio, 0.25, 0.05) && drDominant >= drNormal {
		t.Fatalf("expected dominant-cell run to be dampened toward 0.25x baseline, got ratio %v", ratio)
	}
}

func TestUpdateBandIdempotence(t *testing.T) {
	cfg := DefaultConfig()
	// Choose V, S so IQ = 36*pi*V^2/S^3 ~= 0.80, inside [0.70, 0.90].
	v := 0.1
	s := cubeRootForIQ(v, 0.80)
	vs := []float64{v, v, v}
	ss := []float64{s, s, s}
	flags := []CellFlag{FlagOK, FlagOK, FlagOK}
	rPrev := []float64{0.02, 0.02, 0.02}
	rNew, iq := Update(cfg, vs, ss, flags, rPrev)
	for i := range rNew {
		if !approxEqual(iq[i], 0.80, 1e-6) {
			t.Fatalf("expected IQ~0.80, got %v", iq[i])
		}
		if rNew[i] != rPrev[i] {
			t.Fatalf("expected exact idempotence in-band, got %v vs %v", rNew[i], rPrev[i])
		}
	}
}

// cubeRootForIQ solves S from IQ = 36*pi*V^2/S^3.
func cubeRootForIQ(v, iq float64) float64 {
	const pi = 3.14159265358979323846
	x := 36 * pi * v * v / iq
	// S = cbrt(x)
	r := x
	for i := 0; i < 60; i++ {
		r = r - (r*r*r-x)/(3*r*r)
	}
	return r
}

func TestUpdateDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	v := []float64{0.10, 0.30, 0.30}
	s := []float64{2.0, 1.5, 1.5}
	flags := []CellFlag{FlagOK, FlagOK, FlagOK}
	rPrev := []float64{0.02, 0.02, 0.02}
	r1, iq1 := Update(cfg, v, s, flags, rPrev)
	r2, iq2 := Update(cfg, v, s, flags, rPrev)
	for i := range r1 {
		if r1[i] != r2[i] || iq1[i] != iq2[i] {
			t.Fatalf("expected deterministic output, got %v/%v vs %v/%v", r1, iq1, r2, iq2)
		}
	}
}

func TestUpdateRadiusBoundsAlwaysHold(t *testing.T) {
	cfg := DefaultConfig()
	v := []float64{0.99, 0.01, 0.5}
	s := []float64{0.1, 5.9, 3.0}
	flags := []CellFlag{FlagOK, FlagOK, FlagOK}
	rPrev := []float64{0.006, 0.059, 0.03}
	rNew, _ := Update(cfg, v, s, flags, rPrev)
	for i, r := range rNew {
		if r < cfg.RMin || r > cfg.RMax {
			t.Fatalf("cell %d out of bounds: %v", i, r)
		}
	}
}
