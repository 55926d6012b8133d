package health

import (
	"context"
	"time"

	"github.com/99souls/foam/engine/internal/ratelimit"
)

// BreakerProbe reports the geometry backend breaker's posture as a health
// probe: closed is healthy, a fresh trip is degraded, and a trip that has
// stayed open past unhealthyFor is unhealthy.
type BreakerProbe struct {
	breaker     *ratelimit.Breaker
	unhealthyFor time.Duration
	now         func() time.Time
}

// NewBreakerProbe builds a probe over breaker. unhealthyFor is the duration a
// breaker must remain continuously open before the probe reports unhealthy
// rather than merely degraded.
func NewBreakerProbe(breaker *ratelimit.Breaker, unhealthyFor time.Duration) *BreakerProbe {
	if unhealthyFor <= 0 {
		unhealthyFor = 30 * time.Second
	}
	return &BreakerProbe{breaker: breaker, unhealthyFor: unhealthyFor, now: time.Now}
}

func (p *BreakerProbe) Check(_ context.Context) ProbeResult {
	snap := p.breaker.Snapshot()
	switch snap.State {
	case ratelimit.StateClosed:
		return Healthy("geometry_backend")
	case ratelimit.StateHalfOpen:
		return Degraded("geometry_backend", "breaker probing recovery")
	default: // StateOpen
		if p.now().Sub(snap.OpenedAt) >= p.unhealthyFor {
			return Unhealthy("geometry_backend", "breaker open past unhealthy threshold")
		}
		return Degraded("geometry_backend", "breaker open")
	}
}
