package configx

import "time"

// FoamConfigSpec is the canonical hierarchical configuration payload for a
// Scheduler. Layers merge and overlay partial specs to produce a final
// runtime config; nil sections mean "no contribution from this layer".
type FoamConfigSpec struct {
	Control  *ControlSection  `json:"control,omitempty"`
	Cadence  *CadenceSection  `json:"cadence,omitempty"`
	Backend  *BackendSection  `json:"backend,omitempty"`
}

// ControlSection drives the IQ controller's band and rates (spec.md §4.3).
type ControlSection struct {
	IQMin      float64       `json:"iq_min,omitempty"`
	IQMax      float64       `json:"iq_max,omitempty"`
	BetaGrow   float64       `json:"beta_grow,omitempty"`
	BetaShrink float64       `json:"beta_shrink,omitempty"`
	DrCap      float64       `json:"dr_cap,omitempty"` // gamma
	RMin       float64       `json:"r_min,omitempty"`
	RMax       float64       `json:"r_max,omitempty"`
	SigmaDisp  float64       `json:"sigma_disp,omitempty"`
	VDom       float64       `json:"v_dom,omitempty"`
	Dampening  float64       `json:"dampening,omitempty"`
}

// CadenceSection drives the measurement interval between geometry submissions
// (spec.md §4.4).
type CadenceSection struct {
	K           int  `json:"k,omitempty"`
	AutoCadence bool `json:"auto_cadence"`
	TargetMS    int  `json:"target_ms,omitempty"`
	KMin        int  `json:"k_min,omitempty"`
	KMax        int  `json:"k_max,omitempty"`
	DeltaUp     int  `json:"delta_up,omitempty"`
	DeltaDown   int  `json:"delta_down,omitempty"`
}

// BackendSection drives the Geometry Backend Adapter's batching and recycling
// (spec.md §4.1, §4.4).
type BackendSection struct {
	ChunkMax     int `json:"chunk_max,omitempty"`
	RecycleEvery int `json:"recycle_every,omitempty"`
	NMax         int `json:"n_max,omitempty"`
}

// VersionedConfig records a committed configuration along with metadata.
type VersionedConfig struct {
	Version     int64            `json:"version"`
	Spec        *FoamConfigSpec  `json:"spec"`
	Hash        string           `json:"hash"`
	AppliedAt   time.Time        `json:"applied_at"`
	Actor       string           `json:"actor"`
	Parent      int64            `json:"parent"`
	DiffSummary string           `json:"diff_summary,omitempty"`
}

// ApplyOptions control how a configuration change is processed.
type ApplyOptions struct {
	Actor  string `json:"actor"`
	DryRun bool   `json:"dry_run"`
	Force  bool   `json:"force"`
}
