package configx

// Resolver performs layered configuration resolution. It merges
// FoamConfigSpec fragments provided per layer into a single effective spec.
// Merge semantics:
//   - Precedence: later layers in LayerPrecedenceOrder() override earlier ones.
//   - Section pointers: nil means "no contribution"; non-nil overlays field-wise.
//   - Scalars: a non-zero value from a higher layer overwrites the lower one;
//     a zero value never blanks out an already-set lower layer value (explicit
//     override model — callers who want zero must still set it, since there is
//     no sentinel for "unset" on a float/int field).
//
// The resolver never mutates the input specs and always returns a fresh copy.
type Resolver struct{}

// NewResolver constructs a new Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve merges the provided specs (indexed by layer constant) into a final
// FoamConfigSpec.
func (r *Resolver) Resolve(layerSpecs map[int]*FoamConfigSpec) *FoamConfigSpec {
	final := &FoamConfigSpec{}
	for _, layer := range LayerPrecedenceOrder() {
		spec := layerSpecs[layer]
		if spec == nil {
			continue
		}
		mergeSpecs(final, spec)
	}
	return final
}

func mergeSpecs(dst, src *FoamConfigSpec) {
	if src.Control != nil {
		if dst.Control == nil {
			dst.Control = &ControlSection{}
		}
		mergeControl(dst.Control, src.Control)
	}
	if src.Cadence != nil {
		if dst.Cadence == nil {
			dst.Cadence = &CadenceSection{}
		}
		mergeCadence(dst.Cadence, src.Cadence)
	}
	if src.Backend != nil {
		if dst.Backend == nil {
			dst.Backend = &BackendSection{}
		}
		mergeBackend(dst.Backend, src.Backend)
	}
}

func mergeControl(dst, src *ControlSection) {
	if src.IQMin != 0 {
		dst.IQMin = src.IQMin
	}
	if src.IQMax != 0 {
		dst.IQMax = src.IQMax
	}
	if src.BetaGrow != 0 {
		dst.BetaGrow = src.BetaGrow
	}
	if src.BetaShrink != 0 {
		dst.BetaShrink = src.BetaShrink
	}
	if src.DrCap != 0 {
		dst.DrCap = src.DrCap
	}
	if src.RMin != 0 {
		dst.RMin = src.RMin
	}
	if src.RMax != 0 {
		dst.RMax = src.RMax
	}
	if src.SigmaDisp != 0 {
		dst.SigmaDisp = src.SigmaDisp
	}
	if src.VDom != 0 {
		dst.VDom = src.VDom
	}
	if src.Dampening != 0 {
		dst.Dampening = src.Dampening
	}
}

func mergeCadence(dst, src *CadenceSection) {
	if src.K != 0 {
		dst.K = src.K
	}
	// AutoCadence is a plain bool with no "unset" sentinel; higher layer
	// always wins.
	dst.AutoCadence = src.AutoCadence
	if src.TargetMS != 0 {
		dst.TargetMS = src.TargetMS
	}
	if src.KMin != 0 {
		dst.KMin = src.KMin
	}
	if src.KMax != 0 {
		dst.KMax = src.KMax
	}
	if src.DeltaUp != 0 {
		dst.DeltaUp = src.DeltaUp
	}
	if src.DeltaDown != 0 {
		dst.DeltaDown = src.DeltaDown
	}
}

func mergeBackend(dst, src *BackendSection) {
	if src.ChunkMax != 0 {
		dst.ChunkMax = src.ChunkMax
	}
	if src.RecycleEvery != 0 {
		dst.RecycleEvery = src.RecycleEvery
	}
	if src.NMax != 0 {
		dst.NMax = src.NMax
	}
}
