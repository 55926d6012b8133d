package configx

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFoamConfigSpecZeroValue(t *testing.T) {
	var spec FoamConfigSpec
	if spec.Control != nil || spec.Cadence != nil || spec.Backend != nil {
		b, _ := json.Marshal(spec)
		t.Fatalf("expected zero-value pointers to be nil, got %s", string(b))
	}
}

func TestVersionedConfigBasicMarshal(t *testing.T) {
	vc := &VersionedConfig{
		Version:   1,
		Spec:      &FoamConfigSpec{Control: &ControlSection{IQMin: 0.6, IQMax: 0.9}},
		Hash:      "deadbeef",
		AppliedAt: time.Unix(100, 0),
		Actor:     "tester",
		Parent:    0,
	}
	data, err := json.Marshal(vc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"version":1`) {
		t.Fatalf("expected version field in output: %s", string(data))
	}
}
