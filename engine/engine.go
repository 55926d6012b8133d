// Package engine is the public facade: it composes the scheduler FSM, the
// ambient telemetry stack (metrics, events, health) and a Stepper into a
// single embeddable type, wrapping an atomically swappable telemetry
// policy, an event bus, a health evaluator and a metrics provider around
// the simulation's tick lifecycle.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/99souls/foam/engine/internal/geometry"
	internalresources "github.com/99souls/foam/engine/internal/resources"
	internalscheduler "github.com/99souls/foam/engine/internal/scheduler"
	telemevents "github.com/99souls/foam/engine/internal/telemetry/events"
	telemhealth "github.com/99souls/foam/engine/internal/telemetry/health"
	telemlogging "github.com/99souls/foam/engine/internal/telemetry/logging"
	intmetrics "github.com/99souls/foam/engine/internal/telemetry/metrics"
	telempolicy "github.com/99souls/foam/engine/internal/telemetry/policy"
	telemtracing "github.com/99souls/foam/engine/internal/telemetry/tracing"
	"github.com/99souls/foam/engine/stepper"
	pubtelemetry "github.com/99souls/foam/engine/telemetry"
)

// TelemetryEvent is a reduced, stable event representation for external
// observers, decoupled from the internal event bus's Event type.
type TelemetryEvent struct {
	Time     time.Time              `json:"time"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications.
type EventObserver func(ev TelemetryEvent)

// Re-exported telemetry policy types: stable facade surface while the
// implementation stays internal.
type TelemetryPolicy = telempolicy.TelemetryPolicy
type HealthPolicy = telempolicy.HealthPolicy
type TracingPolicy = telempolicy.TracingPolicy
type EventBusPolicy = telempolicy.EventBusPolicy

// DefaultTelemetryPolicy returns the default normalized telemetry policy.
func DefaultTelemetryPolicy() TelemetryPolicy { return telempolicy.Default() }

// PartialConfig is the live-tunable subset of Config (spec.md §6's
// set_config operation): IQMin, IQMax, BetaGrow, BetaShrink, K, AutoCadence.
type PartialConfig = internalscheduler.PartialConfig

// Backend is the geometry computation routine a caller supplies; see
// engine/internal/geometry.Backend for the contract.
type Backend = geometry.Backend

// Engine composes the scheduler and the ambient telemetry stack behind a
// single facade.
type Engine struct {
	cfg       Config
	scheduler *internalscheduler.Scheduler

	metricsProvider intmetrics.Provider
	eventBus        telemevents.Bus
	healthEval      *telemhealth.Evaluator

	healthStatusGauge intmetrics.Gauge
	lastHealth        atomic.Value // string

	telemetryPolicy atomic.Pointer[TelemetryPolicy]

	startedAt time.Time
	stopped   atomic.Bool
}

// New constructs an Engine driving st via a scheduler configured from cfg,
// computing geometry with backend.
func New(cfg Config, st stepper.Stepper, backend Backend) (*Engine, error) {
	e := &Engine{cfg: cfg, startedAt: time.Now()}

	e.metricsProvider = selectMetricsProvider(cfg)
	e.eventBus = telemevents.NewBus(e.metricsProvider)

	initialPolicy := telempolicy.Default()
	e.telemetryPolicy.Store(&initialPolicy)

	logger := telemlogging.New(slog.Default())
	tracer := telemtracing.NewAdaptiveTracer(func() float64 { return e.Policy().Tracing.SamplePercent })
	history := internalresources.NewManager(internalresources.Config{Capacity: cfg.HistoryCapacity})

	sched := internalscheduler.New(st, cfg.toSchedulerConfig(), backend, e.eventBus, history,
		internalscheduler.WithLogger(logger),
		internalscheduler.WithTracer(tracer),
		internalscheduler.WithMetrics(e.metricsProvider),
	)
	e.scheduler = sched

	// Health: one probe over the geometry backend's circuit breaker, one
	// over the most recent cycle's flagged-cell count.
	snapshotProbe := telemhealth.ProbeFunc(func(_ context.Context) telemhealth.ProbeResult {
		snap := e.scheduler.Telemetry()
		if snap.FlagsNonzeroCount > 0 {
			return telemhealth.Degraded("geometry", "recent cycle reported non-OK cells")
		}
		return telemhealth.Healthy("geometry")
	})
	breakerProbe := telemhealth.NewBreakerProbe(sched.Breaker(), initialPolicy.Health.BreakerUnhealthyFor)
	e.healthEval = telemhealth.NewEvaluator(initialPolicy.Health.ProbeTTL, snapshotProbe, breakerProbe)

	if e.metricsProvider != nil {
		g := e.metricsProvider.NewGauge(intmetrics.GaugeOpts{CommonOpts: intmetrics.CommonOpts{
			Namespace: "foam", Subsystem: "health", Name: "status",
			Help: "Engine overall health status (1=healthy,0.5=degraded,0=unhealthy,-1=unknown)",
		}})
		if g != nil {
			e.healthStatusGauge = g
			g.Set(-1)
		}
	}

	return e, nil
}

func selectMetricsProvider(cfg Config) intmetrics.Provider {
	if !cfg.MetricsEnabled {
		return nil
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

// Tick advances the measurement-control cycle by one step.
func (e *Engine) Tick() {
	if e.stopped.Load() {
		return
	}
	e.scheduler.Tick()
}

// Telemetry returns the most recently published cycle snapshot (C6).
func (e *Engine) Telemetry() pubtelemetry.Snapshot {
	return e.scheduler.Telemetry()
}

// HistoryRecord is one bounded telemetry backlog entry (see
// engine/internal/resources.Record).
type HistoryRecord = internalresources.Record

// History returns up to n of the most recent cycle records from the
// scheduler's bounded telemetry backlog, newest first. n<=0 returns none.
func (e *Engine) History(n int) []HistoryRecord {
	return e.scheduler.History().Recent(n)
}

// SetConfig applies a live-tunable partial configuration to the running
// scheduler (spec.md §6's set_config). A rejected candidate leaves the
// scheduler's prior configuration intact and the error describes why.
func (e *Engine) SetConfig(p PartialConfig) error {
	return e.scheduler.SetConfig(p)
}

// Policy returns the current telemetry policy snapshot. Never returns nil.
func (e *Engine) Policy() TelemetryPolicy {
	if p := e.telemetryPolicy.Load(); p != nil {
		return *p
	}
	def := telempolicy.Default()
	return def
}

// UpdateTelemetryPolicy atomically swaps the active policy. A nil input
// resets to defaults. Safe for concurrent use.
func (e *Engine) UpdateTelemetryPolicy(p *TelemetryPolicy) {
	if e == nil {
		return
	}
	var snap TelemetryPolicy
	if p == nil {
		snap = telempolicy.Default()
	} else {
		snap = p.Normalize()
	}
	old := e.Policy()
	e.telemetryPolicy.Store(&snap)
	if old.Health.ProbeTTL != snap.Health.ProbeTTL {
		e.healthEval.ForceInvalidate()
	}
}

// HealthSnapshot evaluates (or returns cached) subsystem health, publishing
// a health.changed event when the overall status transitions.
func (e *Engine) HealthSnapshot(ctx context.Context) telemhealth.Snapshot {
	if e.healthEval == nil {
		return telemhealth.Snapshot{}
	}
	snap := e.healthEval.Evaluate(ctx)
	var val float64
	switch snap.Overall {
	case telemhealth.StatusHealthy:
		val = 1
	case telemhealth.StatusDegraded:
		val = 0.5
	case telemhealth.StatusUnhealthy:
		val = 0
	default:
		val = -1
	}
	if e.healthStatusGauge != nil {
		e.healthStatusGauge.Set(val)
	}
	prevRaw := e.lastHealth.Load()
	prev := ""
	if prevRaw != nil {
		prev = prevRaw.(string)
	}
	cur := string(snap.Overall)
	if prev != "" && prev != cur && e.eventBus != nil {
		// Observers registered via RegisterEventObserver are already
		// subscribed to the bus, so publishing here is sufficient to reach
		// them without a second, direct dispatch.
		_ = e.eventBus.Publish(telemevents.Event{Category: telemevents.CategoryHealth, Type: "health.changed", Severity: "info", Fields: map[string]interface{}{"previous": prev, "current": cur}})
	}
	e.lastHealth.Store(cur)
	return snap
}

// RegisterEventObserver adds an observer for internal telemetry events
// published via the scheduler's event bus. The observer runs on its own
// goroutine, fed by a buffered bus subscription; events published while that
// buffer is full are dropped for this observer. Safe for concurrent use.
// No-op if nil provided.
func (e *Engine) RegisterEventObserver(obs EventObserver) {
	if e == nil || obs == nil {
		return
	}
	sub, err := e.eventBus.Subscribe(e.Policy().Events.MaxSubscriberBuffer)
	if err != nil {
		return
	}
	go func() {
		for ev := range sub.C() {
			e.dispatchEventTo(obs, ev)
		}
	}()
}

func (e *Engine) dispatchEventTo(o EventObserver, ev telemevents.Event) {
	defer func() { _ = recover() }()
	o(TelemetryEvent{Time: ev.Time, Category: ev.Category, Type: ev.Type, Severity: ev.Severity, Fields: ev.Fields})
}

// MetricsHandler returns the HTTP handler for metrics exposition
// (Prometheus backend only). Returns nil if metrics are disabled or the
// backend does not provide an HTTP handler.
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// Shutdown stops the scheduler's background worker. Idempotent.
func (e *Engine) Shutdown() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	e.scheduler.Shutdown()
}
