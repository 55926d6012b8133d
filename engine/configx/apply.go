package configx

import "errors"

// Applier orchestrates validation, optional impact simulation, commit, and
// rollback for Scheduler.SetConfig. A rejected candidate never reaches the
// store — the previously resolved configuration stays in effect.
type Applier struct {
	Store     *VersionedStore
	Simulator *Simulator
}

func NewApplier(store *VersionedStore, sim *Simulator) *Applier {
	return &Applier{Store: store, Simulator: sim}
}

// ApplyResult captures the outcome of an apply attempt.
type ApplyResult struct {
	Version   int64
	Hash      string
	SimImpact *SimulationImpact
}

var ErrSimulationRejected = errors.New("configx: simulation rejected change")

// Apply executes validate -> simulate (if configured) -> commit unless
// dry-run, and returns the result.
func (a *Applier) Apply(current *FoamConfigSpec, candidate *FoamConfigSpec, opts ApplyOptions) (*ApplyResult, error) {
	if err := ValidateSpec(candidate); err != nil {
		return nil, err
	}
	var impact *SimulationImpact
	if a.Simulator != nil {
		impact = a.Simulator.Simulate(current, candidate)
		if !impact.Acceptable && !opts.Force && !opts.DryRun {
			return nil, ErrSimulationRejected
		}
	}
	if opts.DryRun {
		return &ApplyResult{Version: 0, SimImpact: impact}, nil
	}
	parent := a.Store.NextVersion() - 1
	vc, err := a.Store.Append(candidate, opts.Actor, "", parent)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Version: vc.Version, Hash: vc.Hash, SimImpact: impact}, nil
}

// Rollback re-applies a previous version's spec as a new version, recording a
// rollback diff summary.
func (a *Applier) Rollback(targetVersion int64, actor string) (*ApplyResult, error) {
	vc, ok := a.Store.Get(targetVersion)
	if !ok {
		return nil, errors.New("configx: target version not found")
	}
	parent := a.Store.NextVersion() - 1
	newVC, err := a.Store.Append(vc.Spec, actor, "rollback("+itoa64(targetVersion)+")", parent)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Version: newVC.Version, Hash: newVC.Hash}, nil
}

// itoa64 avoids pulling in strconv for one call site.
func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
