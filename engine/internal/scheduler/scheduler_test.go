package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/99souls/foam/engine/internal/geometry"
	internallogging "github.com/99souls/foam/engine/internal/telemetry/logging"
	internalmetrics "github.com/99souls/foam/engine/internal/telemetry/metrics"
	internaltracing "github.com/99souls/foam/engine/internal/telemetry/tracing"
	"github.com/99souls/foam/engine/stepper/refstepper"
)

// blockingBackend lets a test control exactly when a Compute call returns,
// so it can exercise the scheduler's single-in-flight polling behavior
// deterministically.
type blockingBackend struct {
	release chan struct{}
	calls   int
}

func (b *blockingBackend) Compute(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
	b.calls++
	<-b.release
	v := make([]float64, len(extract))
	s := make([]float64, len(extract))
	f := make([]int, len(extract))
	for i, idx := range extract {
		v[i] = weights[idx]
		s[i] = 1
		f[i] = 4
	}
	return v, s, f, nil
}

func immediateBackend() geometry.Backend {
	return geometry.BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		v := make([]float64, len(extract))
		s := make([]float64, len(extract))
		f := make([]int, len(extract))
		for i, idx := range extract {
			v[i] = weights[idx]
			s[i] = 1
			f[i] = 4
		}
		return v, s, f, nil
	})
}

func TestTickSubmitsAtCadenceBoundary(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(8))
	cfg := DefaultConfig()
	cfg.N = 8
	cfg.KInitial = 2
	cfg.AutoCadence = false
	sched := New(st, cfg, immediateBackend(), nil, nil)
	defer sched.Shutdown()

	sched.Tick() // tick 0, no submission (tickIndex>0 required)
	sched.Tick() // tick 1
	if sched.Telemetry().Pending {
		t.Fatalf("no submission expected before cadence boundary")
	}

	// Allow the background goroutine to run and be polled on a subsequent tick.
	time.Sleep(5 * time.Millisecond)
	sched.Tick() // tick 2: boundary, submits
	time.Sleep(5 * time.Millisecond)
	sched.Tick() // polls result

	snap := sched.Telemetry()
	if snap.TickIndex != 4 {
		t.Fatalf("expected tick index 4, got %d", snap.TickIndex)
	}
}

func TestTickPollsPendingResultAndAppliesController(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1
	cfg.AutoCadence = false
	sched := New(st, cfg, immediateBackend(), nil, nil)
	defer sched.Shutdown()

	sched.Tick() // tick 0
	sched.Tick() // tick 1: boundary, submits

	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		sched.Tick()
	}
	radii := st.Radii()
	for i, r := range radii {
		if r < cfg.RMin || r > cfg.RMax {
			t.Fatalf("radius %d out of bounds: %v", i, r)
		}
	}
}

func TestTickDiscardsStaleResult(t *testing.T) {
	backend := &blockingBackend{release: make(chan struct{})}
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1_000_000 // disable the scheduler's own cadence-driven submission
	cfg.AutoCadence = false
	sched := New(st, cfg, backend, nil, nil)
	defer sched.Shutdown()

	snap := geometry.Snapshot{Tick: 1, Points: st.Positions01(), Weights: st.Radii()}
	if !sched.worker.TrySubmit(snap) {
		t.Fatalf("expected TrySubmit to accept the initial snapshot")
	}
	// Simulate the scheduler having moved past this pending tick by forcing
	// pendingTick to a stale value while the real in-flight request is for
	// tick 1.
	sched.pendingTick = 99

	close(backend.release)
	time.Sleep(10 * time.Millisecond)
	sched.Tick() // should observe WorkResult.Tick=1 != pendingTick(99) and discard

	if sched.pendingTick >= 0 {
		t.Fatalf("expected pendingTick cleared after discarding stale result")
	}
}

func TestSetConfigRejectsInvertedBand(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(2))
	sched := New(st, DefaultConfig(), immediateBackend(), nil, nil)
	defer sched.Shutdown()

	badMin := 0.95
	err := sched.SetConfig(PartialConfig{IQMin: &badMin})
	if err != ErrBandInverted {
		t.Fatalf("expected ErrBandInverted, got %v", err)
	}
}

func TestSetConfigAppliesValidCandidate(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(2))
	sched := New(st, DefaultConfig(), immediateBackend(), nil, nil)
	defer sched.Shutdown()

	newK := 32
	if err := sched.SetConfig(PartialConfig{K: &newK}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.getLive().k != 32 {
		t.Fatalf("expected k=32, got %d", sched.getLive().k)
	}
}

func TestShutdownStopsFurtherTicks(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(2))
	sched := New(st, DefaultConfig(), immediateBackend(), nil, nil)
	sched.Shutdown()

	before := sched.Telemetry().TickIndex
	sched.Tick()
	after := sched.Telemetry().TickIndex
	if before != after {
		t.Fatalf("expected tick to no-op after shutdown")
	}
}

func TestConcurrentSetConfigDuringTicks(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(16))
	cfg := DefaultConfig()
	cfg.N = 16
	cfg.KInitial = 3
	sched := New(st, cfg, immediateBackend(), nil, nil)
	defer sched.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sched.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		grow := 0.02
		for i := 0; i < 50; i++ {
			_ = sched.SetConfig(PartialConfig{BetaGrow: &grow})
		}
	}()
	wg.Wait()
}

func TestHistoryRecordsMeasuredCycles(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1
	cfg.AutoCadence = false
	sched := New(st, cfg, immediateBackend(), nil, nil)
	defer sched.Shutdown()

	for i := 0; i < 4; i++ {
		sched.Tick()
		time.Sleep(time.Millisecond)
	}

	recent := sched.History().Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected at least one history record, got %d", len(recent))
	}
	if recent[0].K != 1 {
		t.Fatalf("expected recorded K=1, got %d", recent[0].K)
	}
}

// recordingLogger captures every InfoCtx/ErrorCtx call for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) InfoCtx(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) ErrorCtx(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) count() (infos, errors int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos), len(l.errors)
}

func TestWithLoggerRecordsCycleTransitionsAndCatastrophe(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1
	cfg.AutoCadence = false

	allFail := geometry.BackendFunc(func(points [][3]float64, weights []float64, extract []int) ([]float64, []float64, []int, error) {
		v := make([]float64, len(extract))
		s := make([]float64, len(extract))
		f := make([]int, len(extract))
		return v, s, f, nil
	})

	logger := &recordingLogger{}
	sched := New(st, cfg, allFail, nil, nil, WithLogger(logger))
	defer sched.Shutdown()

	for i := 0; i < 4; i++ {
		sched.Tick()
		time.Sleep(time.Millisecond)
	}

	infos, errs := logger.count()
	if infos == 0 {
		t.Fatalf("expected at least one info log for cycle transitions")
	}
	if errs == 0 {
		t.Fatalf("expected a catastrophe error log when every cell came back empty")
	}
}

func TestWithTracerSpansGeometryCompute(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1
	cfg.AutoCadence = false

	tracer := internaltracing.NewTracer(true)
	sched := New(st, cfg, immediateBackend(), nil, nil, WithTracer(tracer))
	defer sched.Shutdown()

	for i := 0; i < 4; i++ {
		sched.Tick()
		time.Sleep(time.Millisecond)
	}

	if sched.tracer.Noop() {
		t.Fatalf("expected the scheduler to carry the non-noop tracer it was constructed with")
	}
}

// countingProvider records how many times each gauge/counter name was
// touched, without depending on a concrete metrics backend.
type countingProvider struct {
	mu    sync.Mutex
	gauge map[string]int
}

func (p *countingProvider) NewCounter(internalmetrics.CounterOpts) internalmetrics.Counter {
	return countingCounter{}
}

func (p *countingProvider) NewGauge(opts internalmetrics.GaugeOpts) internalmetrics.Gauge {
	return &countingGauge{p: p, name: opts.Name}
}

func (p *countingProvider) NewHistogram(internalmetrics.HistogramOpts) internalmetrics.Histogram {
	return countingHistogram{}
}

func (p *countingProvider) NewTimer(internalmetrics.HistogramOpts) func() internalmetrics.Timer {
	return func() internalmetrics.Timer { return countingTimer{} }
}

func (p *countingProvider) Health(context.Context) error { return nil }

func (p *countingProvider) touched(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauge[name]
}

type countingGauge struct {
	p    *countingProvider
	name string
}

func (g *countingGauge) Set(float64, ...string) {
	g.p.mu.Lock()
	defer g.p.mu.Unlock()
	if g.p.gauge == nil {
		g.p.gauge = map[string]int{}
	}
	g.p.gauge[g.name]++
}
func (g *countingGauge) Add(float64, ...string) {}

type countingCounter struct{}

func (countingCounter) Inc(float64, ...string) {}

type countingHistogram struct{}

func (countingHistogram) Observe(float64, ...string) {}

type countingTimer struct{}

func (countingTimer) ObserveDuration(...string) {}

func TestWithMetricsPublishesPerCycleGauges(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(4))
	cfg := DefaultConfig()
	cfg.N = 4
	cfg.KInitial = 1
	cfg.AutoCadence = false

	provider := &countingProvider{}
	sched := New(st, cfg, immediateBackend(), nil, nil, WithMetrics(provider))
	defer sched.Shutdown()

	sched.Tick()

	if got := provider.touched("k"); got == 0 {
		t.Fatalf("expected the k gauge to be touched on tick, got %d updates", got)
	}
	if got := provider.touched("iq_mean"); got == 0 {
		t.Fatalf("expected the iq_mean gauge to be touched on tick, got %d updates", got)
	}
}

func TestNewDefaultsAmbientTelemetryToNoop(t *testing.T) {
	st := refstepper.New(refstepper.DefaultConfig(2))
	sched := New(st, DefaultConfig(), immediateBackend(), nil, nil)
	defer sched.Shutdown()

	if sched.logger == nil || sched.tracer == nil || sched.metrics == nil {
		t.Fatalf("expected logger/tracer/metrics to default to non-nil noop implementations")
	}
	if !sched.tracer.Noop() {
		t.Fatalf("expected the default tracer to be a noop tracer")
	}
}

var _ internallogging.Logger = (*recordingLogger)(nil)
