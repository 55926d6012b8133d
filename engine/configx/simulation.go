package configx

import "math"

// SimulationImpact summarizes how drastic a proposed live-tunable change is
// relative to the currently active configuration. It is a cheap heuristic,
// not a replay of the controller — the real safety net remains the per-step
// clamps inside the IQ controller (spec.md §4.3 step 5). This exists so an
// operator-driven SetConfig cannot, in one call, jump the control band or
// cadence bounds far enough to destabilize the next several cycles without
// at least being flagged.
type SimulationImpact struct {
	BandWidthDelta float64  `json:"band_width_delta"`
	RateDelta      float64  `json:"rate_delta"`
	CadenceJump    int      `json:"cadence_jump"`
	Notes          []string `json:"notes,omitempty"`
	Acceptable     bool     `json:"acceptable"`
}

// Simulator computes a deterministic impact estimate between the current and
// candidate spec.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

// Simulate compares two (possibly partial) specs. Only fields present on the
// candidate are scored; absent sections contribute zero impact.
func (s *Simulator) Simulate(current, candidate *FoamConfigSpec) *SimulationImpact {
	impact := &SimulationImpact{Acceptable: true}
	if candidate == nil {
		return impact
	}
	if candidate.Control != nil {
		curWidth, newWidth := 0.0, candidate.Control.IQMax-candidate.Control.IQMin
		if current != nil && current.Control != nil {
			curWidth = current.Control.IQMax - current.Control.IQMin
		}
		impact.BandWidthDelta = math.Abs(newWidth - curWidth)

		curRate, newRate := 0.0, candidate.Control.BetaGrow+candidate.Control.BetaShrink
		if current != nil && current.Control != nil {
			curRate = current.Control.BetaGrow + current.Control.BetaShrink
		}
		impact.RateDelta = math.Abs(newRate - curRate)

		if impact.BandWidthDelta > 0.5 {
			impact.Notes = append(impact.Notes, "IQ band width change exceeds 0.5")
			impact.Acceptable = false
		}
		if impact.RateDelta > 0.5 {
			impact.Notes = append(impact.Notes, "combined grow/shrink rate change exceeds 0.5")
			impact.Acceptable = false
		}
	}
	if candidate.Cadence != nil {
		curK := 0
		if current != nil && current.Cadence != nil {
			curK = current.Cadence.K
		}
		impact.CadenceJump = candidate.Cadence.K - curK
		if abs(impact.CadenceJump) > 100 {
			impact.Notes = append(impact.Notes, "cadence jump exceeds 100 ticks")
			impact.Acceptable = false
		}
	}
	if len(impact.Notes) == 0 {
		impact.Notes = append(impact.Notes, "no material destabilization risk detected")
	}
	return impact
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
