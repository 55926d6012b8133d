package engine

import (
	internalscheduler "github.com/99souls/foam/engine/internal/scheduler"
)

// Config is the public configuration surface for the Engine facade. It
// narrows and normalizes the scheduler's construction-time configuration
// while carrying the ambient telemetry knobs alongside domain settings.
type Config struct {
	// Simulation size. Fixed for the engine's lifetime; changing N requires
	// constructing a new Engine over a new Stepper.
	N int

	// Cadence.
	KInitial    int
	AutoCadence bool
	TargetMS    float64
	KMin        int
	KMax        int
	DeltaUp     int
	DeltaDown   int

	// IQ band and rates. Live-tunable via SetConfig.
	IQMin      float64
	IQMax      float64
	BetaGrow   float64
	BetaShrink float64

	// Radius dynamics.
	DrCap     float64
	RMin      float64
	RMax      float64
	SigmaDisp float64
	VDom      float64

	// Geometry backend.
	ChunkMax                int
	RecycleEvery             int
	BreakerFailureThreshold int
	BreakerCooldownMS       int

	HistoryCapacity int

	// --- Telemetry (C6 / ambient stack) ---
	// MetricsEnabled toggles Prometheus/OTel metrics collection for the
	// scheduler's cycle gauges and counters, the event bus and the health
	// gauge.
	MetricsEnabled bool
	// MetricsBackend selects the provider when MetricsEnabled is true.
	// Supported: "prom" (default), "otel", "noop".
	MetricsBackend string
}

// Defaults returns a Config with the numeric defaults spec.md §6 suggests,
// ambient telemetry left disabled until explicitly enabled by the caller.
func Defaults() Config {
	sc := internalscheduler.DefaultConfig()
	return Config{
		N:           256,
		KInitial:    sc.KInitial,
		AutoCadence: sc.AutoCadence,
		TargetMS:    sc.TargetMS,
		KMin:        sc.KMin,
		KMax:        sc.KMax,
		DeltaUp:     sc.DeltaUp,
		DeltaDown:   sc.DeltaDown,
		IQMin:       sc.IQMin,
		IQMax:       sc.IQMax,
		BetaGrow:    sc.BetaGrow,
		BetaShrink:  sc.BetaShrink,
		DrCap:       sc.DrCap,
		RMin:        sc.RMin,
		RMax:        sc.RMax,
		SigmaDisp:   sc.SigmaDisp,
		VDom:        sc.VDom,
		ChunkMax:    sc.ChunkMax,
		RecycleEvery:            sc.RecycleEvery,
		BreakerFailureThreshold: sc.BreakerFailureThreshold,
		BreakerCooldownMS:       sc.BreakerCooldownMS,
		HistoryCapacity:         sc.HistoryCapacity,

		MetricsEnabled: false,
		MetricsBackend: "prom",
	}
}

func (c Config) toSchedulerConfig() internalscheduler.Config {
	return internalscheduler.Config{
		N:                       c.N,
		KInitial:                c.KInitial,
		AutoCadence:             c.AutoCadence,
		TargetMS:                c.TargetMS,
		KMin:                    c.KMin,
		KMax:                    c.KMax,
		DeltaUp:                 c.DeltaUp,
		DeltaDown:               c.DeltaDown,
		IQMin:                   c.IQMin,
		IQMax:                   c.IQMax,
		BetaGrow:                c.BetaGrow,
		BetaShrink:              c.BetaShrink,
		DrCap:                   c.DrCap,
		RMin:                    c.RMin,
		RMax:                    c.RMax,
		SigmaDisp:               c.SigmaDisp,
		VDom:                    c.VDom,
		ChunkMax:                c.ChunkMax,
		RecycleEvery:            c.RecycleEvery,
		BreakerFailureThreshold: c.BreakerFailureThreshold,
		BreakerCooldownMS:       c.BreakerCooldownMS,
		HistoryCapacity:         c.HistoryCapacity,
	}
}
