package configx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileDoc is the flat key-value persisted document described in spec.md §6.
// It mirrors FoamConfigSpec but with plain scalar fields so it marshals to a
// flat, hand-editable YAML file instead of nested JSON sections.
type FileDoc struct {
	IQMin        float64 `yaml:"iq_min,omitempty"`
	IQMax        float64 `yaml:"iq_max,omitempty"`
	BetaGrow     float64 `yaml:"beta_grow,omitempty"`
	BetaShrink   float64 `yaml:"beta_shrink,omitempty"`
	DrCap        float64 `yaml:"dr_cap,omitempty"`
	RMin         float64 `yaml:"r_min,omitempty"`
	RMax         float64 `yaml:"r_max,omitempty"`
	SigmaDisp    float64 `yaml:"sigma_disp,omitempty"`
	VDom         float64 `yaml:"v_dom,omitempty"`
	K            int     `yaml:"k,omitempty"`
	AutoCadence  bool    `yaml:"auto_cadence"`
	TargetMS     int     `yaml:"target_ms,omitempty"`
	KMin         int     `yaml:"k_min,omitempty"`
	KMax         int     `yaml:"k_max,omitempty"`
	DeltaUp      int     `yaml:"delta_up,omitempty"`
	DeltaDown    int     `yaml:"delta_down,omitempty"`
	ChunkMax     int     `yaml:"chunk_max,omitempty"`
	RecycleEvery int     `yaml:"recycle_every,omitempty"`
}

// ToSpec converts the flat document into a FoamConfigSpec with all three
// sections populated.
func (d FileDoc) ToSpec() *FoamConfigSpec {
	return &FoamConfigSpec{
		Control: &ControlSection{
			IQMin: d.IQMin, IQMax: d.IQMax, BetaGrow: d.BetaGrow, BetaShrink: d.BetaShrink,
			DrCap: d.DrCap, RMin: d.RMin, RMax: d.RMax, SigmaDisp: d.SigmaDisp, VDom: d.VDom,
		},
		Cadence: &CadenceSection{
			K: d.K, AutoCadence: d.AutoCadence, TargetMS: d.TargetMS,
			KMin: d.KMin, KMax: d.KMax, DeltaUp: d.DeltaUp, DeltaDown: d.DeltaDown,
		},
		Backend: &BackendSection{ChunkMax: d.ChunkMax, RecycleEvery: d.RecycleEvery},
	}
}

// LoadFile reads a FileDoc from path. A missing file is not an error — it
// simply contributes nothing to the LayerFile layer.
func LoadFile(path string) (*FoamConfigSpec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configx: read config file: %w", err)
	}
	var doc FileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("configx: parse config file: %w", err)
	}
	return doc.ToSpec(), nil
}

// SaveFile persists spec as a flat YAML document, creating parent directories
// as needed.
func SaveFile(path string, spec *FoamConfigSpec) error {
	var doc FileDoc
	if spec.Control != nil {
		c := spec.Control
		doc.IQMin, doc.IQMax, doc.BetaGrow, doc.BetaShrink = c.IQMin, c.IQMax, c.BetaGrow, c.BetaShrink
		doc.DrCap, doc.RMin, doc.RMax, doc.SigmaDisp, doc.VDom = c.DrCap, c.RMin, c.RMax, c.SigmaDisp, c.VDom
	}
	if spec.Cadence != nil {
		cd := spec.Cadence
		doc.K, doc.AutoCadence, doc.TargetMS = cd.K, cd.AutoCadence, cd.TargetMS
		doc.KMin, doc.KMax, doc.DeltaUp, doc.DeltaDown = cd.KMin, cd.KMax, cd.DeltaUp, cd.DeltaDown
	}
	if spec.Backend != nil {
		doc.ChunkMax, doc.RecycleEvery = spec.Backend.ChunkMax, spec.Backend.RecycleEvery
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("configx: marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("configx: create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Watcher watches a single config file for writes and delivers re-resolved
// specs on Changes(), trimmed to the single-file case a Scheduler needs —
// no A/B testing, no on-disk version history (VersionedStore already
// covers that in-process).
type Watcher struct {
	path       string
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	isWatching bool
}

// NewWatcher constructs a file watcher for path (which need not exist yet).
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configx: create file watcher: %w", err)
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Changes starts watching and returns channels of re-resolved specs and
// errors. Only one watch loop may run at a time; a second call returns
// closed channels.
func (w *Watcher) Changes(ctx context.Context) (<-chan *FoamConfigSpec, <-chan error) {
	changes := make(chan *FoamConfigSpec, 4)
	errs := make(chan error, 4)
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- fmt.Errorf("configx: watch dir %s: %w", dir, err)
		close(changes)
		close(errs)
		return changes, errs
	}
	w.isWatching = true
	w.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)
		for {
			select {
			case e, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if e.Name != w.path || e.Op&fsnotify.Write == 0 {
					continue
				}
				spec, err := LoadFile(w.path)
				if err != nil {
					errs <- err
					continue
				}
				if spec != nil {
					changes <- spec
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}
