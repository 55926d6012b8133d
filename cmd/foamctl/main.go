// Command foamctl drives a foam simulation Engine from the command line:
// a Stepper over N particles, a geometry backend, and a tick loop printing
// periodic telemetry snapshots, with signal-based graceful shutdown and
// optional metrics/health HTTP endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/99souls/foam/engine"
	"github.com/99souls/foam/engine/configx"
	"github.com/99souls/foam/engine/internal/geometry"
	"github.com/99souls/foam/engine/stepper/refstepper"
)

func main() {
	var (
		particles      int
		ticks          int
		snapshotEvery  time.Duration
		showVersion    bool
		metricsAddr    string
		healthAddr     string
		configPath     string
		metricsBackend string
		enableMetrics  bool
	)
	flag.IntVar(&particles, "n", 256, "Number of particles/cells the stepper maintains")
	flag.IntVar(&ticks, "ticks", 0, "Number of ticks to run (0=run until interrupted)")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 2*time.Second, "Interval between telemetry snapshots (0=disabled)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.StringVar(&configPath, "config", "", "Optional YAML config file (flat document, see engine/configx.FileDoc)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop (effective only if -enable-metrics set)")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable metrics provider (required to serve metrics)")
	flag.Parse()

	if showVersion {
		fmt.Println("foamctl – self-organizing foam measurement-control cycle driver")
		return
	}
	if particles <= 0 {
		log.Fatalf("-n must be positive")
	}

	cfg := engine.Defaults()
	cfg.N = particles

	// Configuration flows through the same layered resolve/validate/commit
	// pipeline a live SetConfig call uses: a compiled LayerDefault spec,
	// optionally overlaid by a LayerFile spec loaded from -config.
	resolver := configx.NewResolver()
	store := configx.NewVersionedStore()
	applier := configx.NewApplier(store, nil)

	baseSpec := specFromConfig(cfg)

	var fileSpec *configx.FoamConfigSpec
	if configPath != "" {
		var err error
		fileSpec, err = configx.LoadFile(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	effective := resolver.Resolve(map[int]*configx.FoamConfigSpec{
		configx.LayerDefault: baseSpec,
		configx.LayerFile:    fileSpec,
	})
	applyResult, err := applier.Apply(nil, effective, configx.ApplyOptions{Actor: "foamctl"})
	if err != nil {
		log.Fatalf("apply config: %v", err)
	}
	cfg = applySpec(cfg, effective)
	log.Printf("config version %d applied (hash %s)", applyResult.Version, applyResult.Hash)

	if enableMetrics {
		cfg.MetricsEnabled = true
		cfg.MetricsBackend = metricsBackend
	}

	st := refstepper.New(refstepper.DefaultConfig(particles))
	backend := geometry.NewPeriodicLaguerreStub()

	eng, err := engine.New(cfg, st, backend)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	defer eng.Shutdown()

	eng.RegisterEventObserver(func(ev engine.TelemetryEvent) {
		log.Printf("event category=%s type=%s severity=%s fields=%v", ev.Category, ev.Type, ev.Severity, ev.Fields)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if configPath != "" {
		watchConfig(ctx, configPath, resolver, applier, baseSpec, effective, eng)
	}

	if metricsAddr != "" && cfg.MetricsEnabled {
		if h := eng.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			go func() {
				log.Printf("metrics listening on %s (backend=%s)", metricsAddr, cfg.MetricsBackend)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("metrics server: %v", err)
				}
			}()
		}
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			hs := eng.HealthSnapshot(r.Context())
			_ = json.NewEncoder(w).Encode(map[string]any{"status": hs.Overall, "probes": hs.Probes, "generated": hs.Generated, "ttl": hs.TTL.Seconds()})
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("health endpoint listening on %s", healthAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("health server: %v", err)
			}
		}()
	}

	var snapTicker *time.Ticker
	if snapshotEvery > 0 {
		snapTicker = time.NewTicker(snapshotEvery)
		defer snapTicker.Stop()
	}

	done := make(chan struct{})
	tickInterval := 4 * time.Millisecond
	go func() {
		defer close(done)
		tickTicker := time.NewTicker(tickInterval)
		defer tickTicker.Stop()
		var count int
		for {
			select {
			case <-ctx.Done():
				return
			case <-tickTicker.C:
				eng.Tick()
				count++
				if ticks > 0 && count >= ticks {
					return
				}
			}
		}
	}()

	if snapTicker != nil {
		go func() {
			for {
				select {
				case <-snapTicker.C:
					printSnapshot(eng)
				case <-done:
					return
				}
			}
		}()
	}

	<-done
	printSnapshot(eng)
}

func printSnapshot(eng *engine.Engine) {
	snap := eng.Telemetry()
	b, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
	if recent := eng.History(5); len(recent) > 0 {
		hb, _ := json.MarshalIndent(recent, "", "  ")
		fmt.Fprintf(os.Stderr, "--- last %d cycles ---\n%s\n", len(recent), string(hb))
	}
}

// watchConfig watches configPath for changes and re-resolves, validates and
// commits each edit through the same applier the initial load used, applying
// the live-tunable subset to eng via SetConfig on success. A rejected or
// unreadable edit is logged and the previously resolved config stays live.
func watchConfig(ctx context.Context, configPath string, resolver *configx.Resolver, applier *configx.Applier, baseSpec, current *configx.FoamConfigSpec, eng *engine.Engine) {
	watcher, err := configx.NewWatcher(configPath)
	if err != nil {
		log.Printf("config watcher: %v", err)
		return
	}
	changes, watchErrs := watcher.Changes(ctx)
	go func() {
		for {
			select {
			case spec, ok := <-changes:
				if !ok {
					return
				}
				merged := resolver.Resolve(map[int]*configx.FoamConfigSpec{
					configx.LayerDefault: baseSpec,
					configx.LayerFile:    spec,
				})
				res, err := applier.Apply(current, merged, configx.ApplyOptions{Actor: "foamctl-watch"})
				if err != nil {
					log.Printf("config reload rejected: %v", err)
					continue
				}
				if err := eng.SetConfig(specToPartial(merged)); err != nil {
					log.Printf("apply live config: %v", err)
					continue
				}
				current = merged
				log.Printf("config reloaded from %s (version %d, hash %s)", configPath, res.Version, res.Hash)
			case werr, ok := <-watchErrs:
				if !ok {
					return
				}
				log.Printf("config watch error: %v", werr)
			case <-ctx.Done():
				_ = watcher.Stop()
				return
			}
		}
	}()
}

// specFromConfig converts an engine.Config into the FoamConfigSpec the
// LayerDefault layer contributes to configx's resolver.
func specFromConfig(cfg engine.Config) *configx.FoamConfigSpec {
	return &configx.FoamConfigSpec{
		Control: &configx.ControlSection{
			IQMin: cfg.IQMin, IQMax: cfg.IQMax, BetaGrow: cfg.BetaGrow, BetaShrink: cfg.BetaShrink,
			DrCap: cfg.DrCap, RMin: cfg.RMin, RMax: cfg.RMax, SigmaDisp: cfg.SigmaDisp, VDom: cfg.VDom,
		},
		Cadence: &configx.CadenceSection{
			K: cfg.KInitial, AutoCadence: cfg.AutoCadence, TargetMS: int(cfg.TargetMS),
			KMin: cfg.KMin, KMax: cfg.KMax, DeltaUp: cfg.DeltaUp, DeltaDown: cfg.DeltaDown,
		},
		Backend: &configx.BackendSection{ChunkMax: cfg.ChunkMax, RecycleEvery: cfg.RecycleEvery},
	}
}

// specToPartial extracts the live-tunable subset of a resolved spec
// (engine.PartialConfig / Scheduler.SetConfig's surface: IQMin, IQMax,
// BetaGrow, BetaShrink, K, AutoCadence).
func specToPartial(spec *configx.FoamConfigSpec) engine.PartialConfig {
	var p engine.PartialConfig
	if c := spec.Control; c != nil {
		if c.IQMin != 0 {
			v := c.IQMin
			p.IQMin = &v
		}
		if c.IQMax != 0 {
			v := c.IQMax
			p.IQMax = &v
		}
		if c.BetaGrow != 0 {
			v := c.BetaGrow
			p.BetaGrow = &v
		}
		if c.BetaShrink != 0 {
			v := c.BetaShrink
			p.BetaShrink = &v
		}
	}
	if cad := spec.Cadence; cad != nil {
		if cad.K != 0 {
			v := cad.K
			p.K = &v
		}
		autoCadence := cad.AutoCadence
		p.AutoCadence = &autoCadence
	}
	return p
}

// applySpec overlays a loaded FoamConfigSpec onto base (nil section = no
// contribution).
func applySpec(base engine.Config, spec *configx.FoamConfigSpec) engine.Config {
	if spec == nil {
		return base
	}
	if c := spec.Control; c != nil {
		base.IQMin, base.IQMax = c.IQMin, c.IQMax
		base.BetaGrow, base.BetaShrink = c.BetaGrow, c.BetaShrink
		base.DrCap, base.RMin, base.RMax = c.DrCap, c.RMin, c.RMax
		base.SigmaDisp, base.VDom = c.SigmaDisp, c.VDom
	}
	if c := spec.Cadence; c != nil {
		base.KInitial, base.AutoCadence = c.K, c.AutoCadence
		base.TargetMS = float64(c.TargetMS)
		base.KMin, base.KMax = c.KMin, c.KMax
		base.DeltaUp, base.DeltaDown = c.DeltaUp, c.DeltaDown
	}
	if c := spec.Backend; c != nil {
		base.ChunkMax, base.RecycleEvery = c.ChunkMax, c.RecycleEvery
	}
	return base
}
