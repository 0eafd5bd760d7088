// Copyright 2025 James Ross
// Package breaker implements a sliding-window circuit breaker used by the
// dispatcher to stop hammering a delivery target host that is failing. Each
// breaker is keyed to one target host (spec §4.D), and its state transitions
// are reported on a per-host gauge so an operator can see which endpoints
// are degraded without tailing logs.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// stateGauge mirrors each host's current breaker State (0=closed,
// 1=half_open, 2=open), named per the teacher's hook0_dispatcher_* metrics
// convention.
var stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "hook0_breaker_state",
	Help: "Circuit breaker state per target host (0=closed, 1=half_open, 2=open)",
}, []string{"host"})

func init() {
	prometheus.MustRegister(stateGauge)
}

type result struct {
	t  time.Time
	ok bool
}

// CircuitBreaker guards a single target host with a sliding window and
// cooldown, per spec §4.D's "consistently failing endpoint" requirement.
type CircuitBreaker struct {
	mu               sync.Mutex
	host             string
	state            State
	window           time.Duration
	cooldown         time.Duration
	failureThresh    float64
	minSamples       int
	lastTransition   time.Time
	results          []result
	halfOpenInFlight bool
}

// New builds a CircuitBreaker for host, reporting its state transitions on
// stateGauge under that host's label.
func New(host string, window time.Duration, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
	cb := &CircuitBreaker{host: host, state: Closed, window: window, cooldown: cooldown, failureThresh: failureThresh, minSamples: minSamples, lastTransition: time.Now()}
	stateGauge.WithLabelValues(host).Set(float64(Closed))
	return cb
}

// Host returns the target host this breaker guards.
func (cb *CircuitBreaker) Host() string {
	return cb.host
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState transitions the breaker and reflects the new state on
// stateGauge. Callers must hold cb.mu.
func (cb *CircuitBreaker) setState(s State, now time.Time) {
	cb.state = s
	cb.lastTransition = now
	stateGauge.WithLabelValues(cb.host).Set(float64(s))
}

// Allow reports whether a call against the guarded target may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastTransition) >= cb.cooldown {
			cb.setState(HalfOpen, time.Now())
			cb.halfOpenInFlight = false
			// allow exactly one probe once we enter HalfOpen; next branch handles flag
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of a call previously allowed by Allow.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	// purge old
	cutoff := now.Add(-cb.window)
	filtered := cb.results[:0]
	for _, r := range cb.results {
		if r.t.After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	cb.results = append(filtered, result{t: now, ok: ok})

	// compute failure rate
	total := len(cb.results)
	if total < cb.minSamples {
		if cb.state == HalfOpen {
			if ok {
				cb.setState(Closed, now)
			} else {
				cb.setState(Open, now)
			}
		}
		return
	}
	fails := 0
	for _, r := range cb.results {
		if !r.ok {
			fails++
		}
	}
	rate := float64(fails) / float64(total)
	switch cb.state {
	case Closed:
		if rate >= cb.failureThresh {
			cb.setState(Open, now)
		}
	case HalfOpen:
		if ok {
			cb.setState(Closed, now)
		} else {
			cb.setState(Open, now)
		}
		// the single probe completed; allow a future probe after cooldown or next Allow
		cb.halfOpenInFlight = false
	case Open:
		// handled in Allow()
	}
}
