package configx

import "testing"

func TestApplyDryRun(t *testing.T) {
	store := NewVersionedStore()
	applier := NewApplier(store, NewSimulator())
	candidate := &FoamConfigSpec{Control: &ControlSection{IQMin: 0.6, IQMax: 0.9}}
	res, err := applier.Apply(nil, candidate, ApplyOptions{Actor: "tester", DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if res.Version != 0 {
		t.Fatalf("expected version 0 for dry run got %d", res.Version)
	}
	if _, ok := store.Head(); ok {
		t.Fatalf("store should remain empty after dry run")
	}
}

func TestApplyCommit(t *testing.T) {
	store := NewVersionedStore()
	applier := NewApplier(store, NewSimulator())
	candidate := &FoamConfigSpec{Control: &ControlSection{IQMin: 0.6, IQMax: 0.9}, Cadence: &CadenceSection{K: 16}}
	res, err := applier.Apply(nil, candidate, ApplyOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("expected version 1 got %d", res.Version)
	}
	if res.SimImpact == nil || !res.SimImpact.Acceptable {
		t.Fatalf("expected acceptable simulation impact")
	}
}

func TestApplyRejectsInvalidBand(t *testing.T) {
	store := NewVersionedStore()
	applier := NewApplier(store, NewSimulator())
	candidate := &FoamConfigSpec{Control: &ControlSection{IQMin: 0.9, IQMax: 0.6}}
	_, err := applier.Apply(nil, candidate, ApplyOptions{Actor: "tester"})
	if err == nil {
		t.Fatalf("expected validation rejection for inverted band")
	}
	if _, ok := store.Head(); ok {
		t.Fatalf("store must remain empty after a rejected candidate")
	}
}

func TestApplySimulationRejectThenForce(t *testing.T) {
	store := NewVersionedStore()
	applier := NewApplier(store, NewSimulator())
	// A cadence jump this large should be flagged by the simulator.
	candidate := &FoamConfigSpec{Cadence: &CadenceSection{K: 500}}
	_, err := applier.Apply(nil, candidate, ApplyOptions{Actor: "tester"})
	if err == nil {
		t.Fatalf("expected simulation rejection")
	}
	res, err := applier.Apply(nil, candidate, ApplyOptions{Actor: "tester", Force: true})
	if err != nil || res.Version != 1 {
		t.Fatalf("forced apply failed: %v", err)
	}
}

func TestRollback(t *testing.T) {
	store := NewVersionedStore()
	applier := NewApplier(store, NewSimulator())
	first := &FoamConfigSpec{Cadence: &CadenceSection{K: 16}}
	second := &FoamConfigSpec{Cadence: &CadenceSection{K: 24}}
	_, _ = applier.Apply(nil, first, ApplyOptions{Actor: "a"})
	_, _ = applier.Apply(first, second, ApplyOptions{Actor: "b"})
	res, err := applier.Rollback(1, "rollback-actor")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if res.Version != 3 {
		t.Fatalf("expected new version 3 after rollback got %d", res.Version)
	}
	head, _ := store.Head()
	if head.Spec.Cadence.K != 16 {
		t.Fatalf("expected rollback to restore K=16, got %d", head.Spec.Cadence.K)
	}
}
