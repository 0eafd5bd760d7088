// Copyright 2025 James Ross
// Package reaper periodically reclaims orphaned request attempts: ones a
// dispatcher picked but never completed because it crashed or lost its
// connection to the Store before recording an outcome (spec §4.A).
package reaper

import (
	"context"
	"time"

	"github.com/hook0/dispatcher/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var recoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "hook0_reaper_recovered_total",
	Help: "Total request attempts reclaimed from orphaned (picked but never terminal) state",
})

func init() {
	prometheus.MustRegister(recoveredTotal)
}

// Reaper runs SweepOrphans on a fixed tick. Its horizon is the age beyond
// which a picked, non-terminal attempt is assumed abandoned.
type Reaper struct {
	store    *store.Store
	log      *zap.Logger
	interval time.Duration
	horizon  time.Duration
}

// New builds a Reaper. interval defaults to 5s, horizon to 10 minutes
// (spec §4.A default reclaim horizon) when given a non-positive value.
func New(st *store.Store, log *zap.Logger, interval, horizon time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if horizon <= 0 {
		horizon = 10 * time.Minute
	}
	return &Reaper{store: st, log: log, interval: interval, horizon: horizon}
}

// Run sweeps on every tick until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	n, err := r.store.SweepOrphans(ctx, r.horizon)
	if err != nil {
		r.log.Warn("orphan sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		recoveredTotal.Add(float64(n))
		r.log.Warn("reclaimed orphaned request attempts", zap.Int("count", n), zap.Duration("horizon", r.horizon))
	}
}
