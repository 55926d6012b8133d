package policy

import "time"

// TelemetryPolicy centralizes runtime-tunable telemetry knobs. It is designed
// to be swapped atomically (callers hold an immutable snapshot pointer) to
// avoid locks on hot paths. All durations are expected to be positive; zero
// values fall back to defaults established in Default().
type TelemetryPolicy struct {
	Health  HealthPolicy
	Tracing TracingPolicy
	Events  EventBusPolicy
}

// HealthPolicy tunes when the backend breaker's state is surfaced as
// degraded/unhealthy in telemetry.
type HealthPolicy struct {
	ProbeTTL                   time.Duration
	BreakerDegradedConsecutive int
	BreakerUnhealthyFor        time.Duration
}

type TracingPolicy struct {
	SamplePercent           float64
	ErrorBoostPercent       float64
	LatencyBoostThresholdMs int64
	LatencyBoostPercent     float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns a TelemetryPolicy populated with sane defaults.
func Default() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                   2 * time.Second,
			BreakerDegradedConsecutive: 2,
			BreakerUnhealthyFor:        30 * time.Second,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize ensures sane bounds without mutating original; returns a cleaned copy.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = 2 * time.Second
	}
	if c.Health.BreakerDegradedConsecutive <= 0 {
		c.Health.BreakerDegradedConsecutive = 2
	}
	if c.Health.BreakerUnhealthyFor <= 0 {
		c.Health.BreakerUnhealthyFor = 30 * time.Second
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}
