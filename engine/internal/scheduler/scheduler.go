// Package scheduler implements the cycle FSM (C4): it drives
// FREEZE/MEASURE/ADJUST/RELAX, owns pending-request state, adapts cadence,
// and surfaces telemetry through a small set of public methods composing a
// worker, a telemetry publisher, an event bus and a bounded history.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/99souls/foam/engine/internal/controller"
	"github.com/99souls/foam/engine/internal/geometry"
	"github.com/99souls/foam/engine/internal/ratelimit"
	"github.com/99souls/foam/engine/internal/resources"
	internalevents "github.com/99souls/foam/engine/internal/telemetry/events"
	internallogging "github.com/99souls/foam/engine/internal/telemetry/logging"
	internalmetrics "github.com/99souls/foam/engine/internal/telemetry/metrics"
	internaltracing "github.com/99souls/foam/engine/internal/telemetry/tracing"
	"github.com/99souls/foam/engine/stepper"
	"github.com/99souls/foam/engine/telemetry"
)

// Config is the full construction-time configuration (spec.md §6). N,
// RMin/RMax, ChunkMax and RecycleEvery are fixed for the scheduler's
// lifetime; IQMin, IQMax, BetaGrow, BetaShrink, K and AutoCadence may be
// changed live via SetConfig.
type Config struct {
	N int

	KInitial    int
	AutoCadence bool
	TargetMS    float64
	KMin        int
	KMax        int
	DeltaUp     int
	DeltaDown   int

	IQMin      float64
	IQMax      float64
	BetaGrow   float64
	BetaShrink float64

	DrCap     float64
	RMin      float64
	RMax      float64
	SigmaDisp float64
	VDom      float64

	ChunkMax     int
	RecycleEvery int

	BreakerFailureThreshold int
	BreakerCooldownMS       int

	HistoryCapacity int
}

// DefaultConfig returns spec.md's suggested numeric defaults.
func DefaultConfig() Config {
	return Config{
		KInitial: 16, AutoCadence: true, TargetMS: 12,
		KMin: 8, KMax: 200, DeltaUp: 8, DeltaDown: 4,
		IQMin: 0.70, IQMax: 0.90, BetaGrow: 0.015, BetaShrink: 0.002,
		DrCap: 0.01, RMin: 0.005, RMax: 0.060, SigmaDisp: 0.5, VDom: 0.5,
		ChunkMax: 512, RecycleEvery: 300,
		BreakerFailureThreshold: 3, BreakerCooldownMS: 1000,
		HistoryCapacity: 64,
	}
}

// ErrBandInverted is returned by SetConfig when the candidate violates
// IQMin < IQMax.
var ErrBandInverted = errors.New("scheduler: IQMin must be < IQMax")

// ErrRateOutOfRange is returned when a candidate beta rate falls outside [0,1].
var ErrRateOutOfRange = errors.New("scheduler: beta rate must be in [0,1]")

// PartialConfig is the live-tunable subset accepted by SetConfig (spec.md
// §6). Nil fields leave the current value unchanged.
type PartialConfig struct {
	IQMin       *float64
	IQMax       *float64
	BetaGrow    *float64
	BetaShrink  *float64
	K           *int
	AutoCadence *bool
}

type liveConfig struct {
	iqMin, iqMax           float64
	betaGrow, betaShrink   float64
	k                      int
	autoCadence            bool
}

// Scheduler drives the FREEZE/MEASURE/ADJUST/RELAX cycle over a Stepper
// (spec.md §4.4).
type Scheduler struct {
	stepperImpl stepper.Stepper
	adapterCfg  geometry.Config
	breaker     *ratelimit.Breaker
	backend     geometry.Backend
	worker      *geometry.Worker

	controllerCfg controller.Config

	liveMu sync.Mutex
	live   liveConfig

	n int

	tickIndex      int64
	pendingTick    int64 // -1 means no request in flight
	pendingPrevR   []float64
	resultsSeen    int64
	recycleEvery   int64

	lastTGeomMS float64
	lastIQMean  float64
	lastIQStd   float64
	pctBelow    float64
	pctWithin   float64
	pctAbove    float64
	flagsNZ     int

	cadenceBounds cadenceBounds

	telemetry *telemetry.Publisher
	events    internalevents.Bus
	history   *resources.Manager

	logger internallogging.Logger
	tracer internaltracing.Tracer

	metrics     internalmetrics.Provider
	gaugeK      internalmetrics.Gauge
	gaugePending internalmetrics.Gauge
	gaugeTGeom  internalmetrics.Gauge
	gaugeIQMean internalmetrics.Gauge
	gaugeIQStd  internalmetrics.Gauge
	gaugePctBelow internalmetrics.Gauge
	gaugePctWithin internalmetrics.Gauge
	gaugePctAbove internalmetrics.Gauge
	counterFlagsNZ internalmetrics.Counter
	counterRecycle internalmetrics.Counter

	shutdownOnce sync.Once
	shutdown     bool
}

// options holds the ambient telemetry dependencies a Scheduler may be
// constructed with. New fills every field with a default: a logger over
// slog.Default(), a noop tracer and a noop metrics provider.
type options struct {
	logger  internallogging.Logger
	tracer  internaltracing.Tracer
	metrics internalmetrics.Provider
}

// Option configures optional ambient telemetry wiring for New.
type Option func(*options)

// WithLogger wires a structured logger for cycle transition and catastrophe
// logging. A nil logger is ignored.
func WithLogger(l internallogging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer wires the tracer used to span the geometry backend's Compute
// calls. A nil tracer is ignored.
func WithTracer(t internaltracing.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics wires the metrics provider used to publish per-cycle gauges
// and counters. A nil provider is ignored.
func WithMetrics(p internalmetrics.Provider) Option {
	return func(o *options) {
		if p != nil {
			o.metrics = p
		}
	}
}

// New constructs a Scheduler over st, using backend as the geometry
// computation routine. events and history may be nil. opts wires optional
// ambient telemetry (logger, tracer, metrics provider); an omitted logger
// defaults to one over slog.Default(), an omitted tracer or metrics
// provider to a noop implementation.
func New(st stepper.Stepper, cfg Config, backend geometry.Backend, events internalevents.Bus, history *resources.Manager, opts ...Option) *Scheduler {
	o := options{
		logger:  internallogging.New(nil),
		tracer:  internaltracing.NewTracer(false),
		metrics: internalmetrics.NewNoopProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	breaker := ratelimit.NewBreaker(cfg.BreakerFailureThreshold, time.Duration(cfg.BreakerCooldownMS)*time.Millisecond)
	adapterCfg := geometry.Config{NMax: 100_000, ChunkMax: cfg.ChunkMax, WMin: 1e-6, WMax: 1e6}
	adapter := geometry.NewAdapter(adapterCfg, backend, breaker)
	adapter.SetTracer(o.tracer)

	if history == nil {
		history = resources.NewManager(resources.Config{Capacity: cfg.HistoryCapacity})
	}

	s := &Scheduler{
		stepperImpl: st,
		adapterCfg:  adapterCfg,
		breaker:     breaker,
		backend:     backend,
		worker:      geometry.NewWorker(adapter),
		controllerCfg: controller.Config{
			IQMin: cfg.IQMin, IQMax: cfg.IQMax, BetaGrow: cfg.BetaGrow, BetaShrink: cfg.BetaShrink,
			DrCap: cfg.DrCap, RMin: cfg.RMin, RMax: cfg.RMax, SigmaDisp: cfg.SigmaDisp, VDom: cfg.VDom,
		},
		n:            cfg.N,
		pendingTick:  -1,
		recycleEvery: int64(cfg.RecycleEvery),
		telemetry:    telemetry.NewPublisher(),
		events:       events,
		history:      history,
		logger:       o.logger,
		tracer:       o.tracer,
		metrics:      o.metrics,
		live: liveConfig{
			iqMin: cfg.IQMin, iqMax: cfg.IQMax,
			betaGrow: cfg.BetaGrow, betaShrink: cfg.BetaShrink,
			k: cfg.KInitial, autoCadence: cfg.AutoCadence,
		},
	}
	s.cadenceBounds = cadenceBounds{kMin: cfg.KMin, kMax: cfg.KMax, deltaUp: cfg.DeltaUp, deltaDown: cfg.DeltaDown, targetMS: cfg.TargetMS}
	s.initMetrics()
	return s
}

func (s *Scheduler) initMetrics() {
	ns, sub := "foam", "scheduler"
	s.gaugeK = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "k", Help: "Current measurement cadence (ticks between geometry requests)"}})
	s.gaugePending = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "pending", Help: "1 if a geometry request is currently in flight, else 0"}})
	s.gaugeTGeom = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "t_geom_ms", Help: "Wall-clock duration of the most recent geometry request, in milliseconds"}})
	s.gaugeIQMean = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "iq_mean", Help: "Mean isoperimetric quotient over the most recent cycle"}})
	s.gaugeIQStd = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "iq_stddev", Help: "Isoperimetric quotient standard deviation over the most recent cycle"}})
	s.gaugePctBelow = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "iq_pct_below", Help: "Percentage of cells below the IQ band in the most recent cycle"}})
	s.gaugePctWithin = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "iq_pct_within", Help: "Percentage of cells within the IQ band in the most recent cycle"}})
	s.gaugePctAbove = s.metrics.NewGauge(internalmetrics.GaugeOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "iq_pct_above", Help: "Percentage of cells above the IQ band in the most recent cycle"}})
	s.counterFlagsNZ = s.metrics.NewCounter(internalmetrics.CounterOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "flags_nonzero_count", Help: "Cumulative count of non-OK cell flags reported by the geometry backend"}})
	s.counterRecycle = s.metrics.NewCounter(internalmetrics.CounterOpts{CommonOpts: internalmetrics.CommonOpts{Namespace: ns, Subsystem: sub, Name: "worker_recycled_total", Help: "Number of times the geometry worker has been recycled"}})
}

type cadenceBounds struct {
	kMin, kMax, deltaUp, deltaDown int
	targetMS                       float64
}

// Tick executes one pass of spec.md §4.4's per-tick algorithm.
func (s *Scheduler) Tick() {
	if s.shutdown {
		return
	}

	// 1. Dynamics always advance.
	s.stepperImpl.RelaxStep()

	live := s.getLive()

	// 2. Poll for a completed result if one is pending.
	if s.pendingTick >= 0 {
		if wr, ok := s.worker.TryPoll(); ok {
			if wr.Tick == s.pendingTick {
				s.applyResult(wr, live)
			}
			// A stale result (tick advanced past what this pertains to) is
			// simply discarded; the scheduler never re-submits it.
			s.pendingTick = -1
			s.pendingPrevR = nil
		}
	}

	// 3. Submit a new snapshot at cadence boundaries when nothing is in
	// flight.
	if s.pendingTick < 0 && live.k > 0 && s.tickIndex > 0 && s.tickIndex%int64(live.k) == 0 {
		s.stepperImpl.Freeze()
		points := s.stepperImpl.Positions01()
		radii := s.stepperImpl.Radii()
		weights := make([]float64, len(radii))
		for i, r := range radii {
			weights[i] = r * r
		}
		snap := geometry.Snapshot{Tick: s.tickIndex, Points: points, Weights: weights}
		if s.worker.TrySubmit(snap) {
			s.pendingTick = s.tickIndex
			s.pendingPrevR = radii
			s.publishEvent(internalevents.CategoryCycle, internalevents.TypeCycleSubmitted, "info", nil)
			s.logger.InfoCtx(context.Background(), "cycle submitted", slog.Int64("tick", s.tickIndex), slog.Int("k", live.k))
		} else {
			s.publishEvent(internalevents.CategoryCycle, internalevents.TypeCycleSkipped, "info", nil)
			s.logger.InfoCtx(context.Background(), "cycle skipped: geometry worker still busy", slog.Int64("tick", s.tickIndex))
		}
		s.stepperImpl.Resume()
	}

	// 4. Advance tick counter.
	s.tickIndex++

	// 5. Publish telemetry.
	s.publishTelemetrySnapshot(live)
}

func (s *Scheduler) applyResult(wr geometry.WorkResult, live liveConfig) {
	res := wr.Result
	n := len(res.Flags)
	flags := make([]controller.CellFlag, n)
	nonzero := 0
	for i, f := range res.Flags {
		if f == geometry.FlagOK {
			flags[i] = controller.FlagOK
		} else {
			flags[i] = controller.FlagNonOK
			nonzero++
		}
	}

	cfg := s.controllerCfg
	cfg.IQMin, cfg.IQMax = live.iqMin, live.iqMax
	cfg.BetaGrow, cfg.BetaShrink = live.betaGrow, live.betaShrink

	rNew, iq := controller.Update(cfg, res.V, res.S, flags, s.pendingPrevR)
	s.stepperImpl.SetRadii(rNew)

	mean, std, below, within, above := iqStats(iq, cfg.IQMin, cfg.IQMax)
	s.lastTGeomMS = res.ElapsedMS
	s.lastIQMean = mean
	s.lastIQStd = std
	s.pctBelow, s.pctWithin, s.pctAbove = below, within, above
	s.flagsNZ = nonzero

	s.resultsSeen++
	s.history.Store(resources.Record{
		Tick: wr.Tick, K: live.k, Pending: 0, IQMean: mean, IQStdDev: std, Flags: nonzero,
	})

	s.adaptCadence(res.ElapsedMS)

	if s.recycleEvery > 0 && s.resultsSeen%s.recycleEvery == 0 {
		s.recycleWorker()
	}

	s.publishEvent(internalevents.CategoryCycle, internalevents.TypeCycleMeasured, "info", nil)
	s.logger.InfoCtx(context.Background(), "cycle measured",
		slog.Int64("tick", wr.Tick), slog.Float64("t_geom_ms", res.ElapsedMS),
		slog.Float64("iq_mean", mean), slog.Float64("iq_stddev", std), slog.Int("flags_nonzero", nonzero))
	if nonzero > 0 {
		s.counterFlagsNZ.Inc(float64(nonzero))
	}
	if nonzero == n && n > 0 {
		s.publishEvent(internalevents.CategoryBackend, internalevents.TypeBackendCatastrophe, "warn", nil)
		s.logger.ErrorCtx(context.Background(), "backend catastrophe: every cell in the cycle failed",
			slog.Int64("tick", wr.Tick), slog.Int("n", n))
	}
}

func (s *Scheduler) adaptCadence(tGeomMS float64) {
	if !s.getLive().autoCadence {
		return
	}
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	switch {
	case tGeomMS > 2*s.cadenceBounds.targetMS && s.live.k < s.cadenceBounds.kMax:
		s.live.k += s.cadenceBounds.deltaUp
		if s.live.k > s.cadenceBounds.kMax {
			s.live.k = s.cadenceBounds.kMax
		}
	case tGeomMS < s.cadenceBounds.targetMS && s.live.k > s.cadenceBounds.kMin:
		s.live.k -= s.cadenceBounds.deltaDown
		if s.live.k < s.cadenceBounds.kMin {
			s.live.k = s.cadenceBounds.kMin
		}
	}
}

func (s *Scheduler) recycleWorker() {
	s.worker.Shutdown()
	adapter := geometry.NewAdapter(s.adapterCfg, s.backend, s.breaker)
	adapter.SetTracer(s.tracer)
	s.worker = geometry.NewWorker(adapter)
	s.counterRecycle.Inc(1)
	s.publishEvent(internalevents.CategoryWorker, internalevents.TypeWorkerRecycled, "info", nil)
	s.logger.InfoCtx(context.Background(), "geometry worker recycled", slog.Int64("results_seen", s.resultsSeen))
}

func (s *Scheduler) publishEvent(category, typ, severity string, fields map[string]interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(internalevents.Event{Category: category, Type: typ, Severity: severity, Fields: fields})
}

func (s *Scheduler) publishTelemetrySnapshot(live liveConfig) {
	pending := 0.0
	if s.pendingTick >= 0 {
		pending = 1
	}
	s.gaugeK.Set(float64(live.k))
	s.gaugePending.Set(pending)
	s.gaugeTGeom.Set(s.lastTGeomMS)
	s.gaugeIQMean.Set(s.lastIQMean)
	s.gaugeIQStd.Set(s.lastIQStd)
	s.gaugePctBelow.Set(s.pctBelow)
	s.gaugePctWithin.Set(s.pctWithin)
	s.gaugePctAbove.Set(s.pctAbove)

	s.telemetry.Publish(telemetry.Snapshot{
		TickIndex:         s.tickIndex,
		K:                 live.k,
		Pending:           s.pendingTick >= 0,
		TGeomMS:           s.lastTGeomMS,
		IQMean:            s.lastIQMean,
		IQStdDev:          s.lastIQStd,
		PctBelow:          s.pctBelow,
		PctWithin:         s.pctWithin,
		PctAbove:          s.pctAbove,
		FlagsNonzeroCount: s.flagsNZ,
	})
}

// Telemetry returns the most recently published snapshot.
func (s *Scheduler) Telemetry() telemetry.Snapshot { return s.telemetry.Read() }

// Breaker exposes the scheduler's geometry backend circuit breaker, so a
// caller (the engine facade) can wire a health probe over it.
func (s *Scheduler) Breaker() *ratelimit.Breaker { return s.breaker }

// History returns the scheduler's bounded telemetry backlog, letting a
// caller inspect past cycles (by tick, the N most recent entries, or
// aggregate occupancy stats) beyond the single most recent Telemetry
// snapshot.
func (s *Scheduler) History() *resources.Manager { return s.history }

// SetConfig atomically validates and applies a live-tunable partial
// configuration. A rejected candidate leaves the previous values intact.
func (s *Scheduler) SetConfig(p PartialConfig) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	candidate := s.live
	if p.IQMin != nil {
		candidate.iqMin = *p.IQMin
	}
	if p.IQMax != nil {
		candidate.iqMax = *p.IQMax
	}
	if p.BetaGrow != nil {
		candidate.betaGrow = *p.BetaGrow
	}
	if p.BetaShrink != nil {
		candidate.betaShrink = *p.BetaShrink
	}
	if p.K != nil {
		candidate.k = *p.K
	}
	if p.AutoCadence != nil {
		candidate.autoCadence = *p.AutoCadence
	}
	if candidate.iqMin >= candidate.iqMax {
		s.publishEvent(internalevents.CategoryConfig, "config.rejected", "warn", nil)
		return ErrBandInverted
	}
	if candidate.betaGrow < 0 || candidate.betaGrow > 1 || candidate.betaShrink < 0 || candidate.betaShrink > 1 {
		s.publishEvent(internalevents.CategoryConfig, "config.rejected", "warn", nil)
		return ErrRateOutOfRange
	}
	s.live = candidate
	s.publishEvent(internalevents.CategoryConfig, "config.applied", "info", nil)
	return nil
}

func (s *Scheduler) getLive() liveConfig {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.live
}

// Shutdown stops the worker and prevents further ticks.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shutdown = true
		s.worker.Shutdown()
	})
}

func iqStats(iq []float64, iqMin, iqMax float64) (mean, std, pctBelow, pctWithin, pctAbove float64) {
	var sum float64
	count := 0
	below, within, above := 0, 0, 0
	for _, v := range iq {
		if v < 0 {
			continue
		}
		sum += v
		count++
		switch {
		case v < iqMin:
			below++
		case v > iqMax:
			above++
		default:
			within++
		}
	}
	if count == 0 {
		return 0, 0, 0, 0, 0
	}
	mean = sum / float64(count)
	var variance float64
	for _, v := range iq {
		if v < 0 {
			continue
		}
		d := v - mean
		variance += d * d
	}
	variance /= float64(count)
	std = math.Sqrt(variance)
	total := float64(count)
	return mean, std, float64(below) / total * 100, float64(within) / total * 100, float64(above) / total * 100
}
