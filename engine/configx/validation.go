package configx

import "errors"

// Validation errors for the live-tunable configuration surface (spec.md §6,
// §7 "Configuration error").
var (
	ErrBandInverted        = errors.New("configx: IQ_min must be less than IQ_max")
	ErrBandOutOfRange      = errors.New("configx: IQ band must lie in (0, 1]")
	ErrNegativeRate        = errors.New("configx: beta_grow/beta_shrink must lie in [0, 1]")
	ErrInvalidDrCap        = errors.New("configx: dr_cap (gamma) must be in (0, 1]")
	ErrRadiusBoundsInvalid = errors.New("configx: r_min must be positive and less than r_max")
	ErrCadenceInvalid      = errors.New("configx: k_min must be positive and no greater than k_max")
	ErrCadenceStepInvalid  = errors.New("configx: delta_up/delta_down must be positive")
	ErrChunkMaxInvalid     = errors.New("configx: chunk_max must be positive")
	ErrRecycleInvalid      = errors.New("configx: recycle_every must be non-negative")
)

// ValidateSpec performs structural and semantic validation of a (possibly
// partial) spec. A nil section is always valid — it contributes nothing.
// Scheduler.SetConfig rejects a candidate wholesale on the first violation,
// leaving the previously resolved config untouched.
func ValidateSpec(spec *FoamConfigSpec) error {
	if spec == nil {
		return errors.New("configx: nil spec")
	}
	if c := spec.Control; c != nil {
		if c.IQMin != 0 && (c.IQMin <= 0 || c.IQMin > 1) {
			return ErrBandOutOfRange
		}
		if c.IQMax != 0 && (c.IQMax <= 0 || c.IQMax > 1) {
			return ErrBandOutOfRange
		}
		if c.IQMin != 0 && c.IQMax != 0 && c.IQMin >= c.IQMax {
			return ErrBandInverted
		}
		if c.BetaGrow < 0 || c.BetaGrow > 1 || c.BetaShrink < 0 || c.BetaShrink > 1 {
			return ErrNegativeRate
		}
		if c.DrCap != 0 && (c.DrCap <= 0 || c.DrCap > 1) {
			return ErrInvalidDrCap
		}
		if c.RMin != 0 && c.RMax != 0 && (c.RMin <= 0 || c.RMin >= c.RMax) {
			return ErrRadiusBoundsInvalid
		}
	}
	if cad := spec.Cadence; cad != nil {
		if cad.KMin != 0 && cad.KMax != 0 && (cad.KMin <= 0 || cad.KMin > cad.KMax) {
			return ErrCadenceInvalid
		}
		if cad.DeltaUp < 0 || cad.DeltaDown < 0 {
			return ErrCadenceStepInvalid
		}
	}
	if b := spec.Backend; b != nil {
		if b.ChunkMax != 0 && b.ChunkMax <= 0 {
			return ErrChunkMaxInvalid
		}
		if b.RecycleEvery < 0 {
			return ErrRecycleInvalid
		}
	}
	return nil
}
