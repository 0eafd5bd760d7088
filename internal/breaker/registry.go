// Copyright 2025 James Ross
package breaker

import (
	"net/url"
	"sync"
	"time"
)

// Registry hands out one CircuitBreaker per delivery target host, so a
// chronically failing endpoint does not throttle the dispatcher's ability
// to deliver to every other subscription's target.
type Registry struct {
	mu            sync.Mutex
	breakers      map[string]*CircuitBreaker
	window        time.Duration
	cooldown      time.Duration
	failureThresh float64
	minSamples    int
}

// NewRegistry builds a Registry whose breakers all share the same sliding
// window, cooldown and threshold parameters.
func NewRegistry(window, cooldown time.Duration, failureThresh float64, minSamples int) *Registry {
	return &Registry{
		breakers:      make(map[string]*CircuitBreaker),
		window:        window,
		cooldown:      cooldown,
		failureThresh: failureThresh,
		minSamples:    minSamples,
	}
}

// For returns the breaker for targetURL's host, creating it on first use.
func (r *Registry) For(targetURL string) *CircuitBreaker {
	host := hostKey(targetURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[host]
	if !ok {
		cb = New(host, r.window, r.cooldown, r.failureThresh, r.minSamples)
		r.breakers[host] = cb
	}
	return cb
}

func hostKey(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return targetURL
	}
	return u.Host
}
