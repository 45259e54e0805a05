package resilience

import "time"

// Policy bounds retries and the per-operation circuit breaker for calls to
// outbound collaborators (Ollama, NATS).
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	Breaker bool
	// The breaker trips once MinRequests calls were seen and the failure
	// ratio reaches TripRatio. It stays open for OpenFor, then lets
	// HalfOpenProbes calls through.
	MinRequests    uint32
	TripRatio      float64
	OpenFor        time.Duration
	HalfOpenProbes uint32
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     400 * time.Millisecond,
		Multiplier:     2,

		Breaker:        true,
		MinRequests:    10,
		TripRatio:      0.5,
		OpenFor:        30 * time.Second,
		HalfOpenProbes: 2,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.TripRatio <= 0 || p.TripRatio > 1 {
		p.TripRatio = def.TripRatio
	}
	if p.OpenFor <= 0 {
		p.OpenFor = def.OpenFor
	}
	if p.HalfOpenProbes == 0 {
		p.HalfOpenProbes = def.HalfOpenProbes
	}
	return p
}

// backoff returns the wait before attempt n+1 (n starts at 1).
func (p Policy) backoff(n int) time.Duration {
	wait := p.InitialBackoff
	for i := 1; i < n; i++ {
		wait = time.Duration(float64(wait) * p.Multiplier)
		if wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return wait
}
