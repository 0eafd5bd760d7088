// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BacklogPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hook0_backlog_pending",
		Help: "Request attempts currently eligible for claim (scheduled_at has arrived, unclaimed)",
	})
	BacklogInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hook0_backlog_in_flight",
		Help: "Request attempts currently picked by a dispatcher and not yet terminal",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hook0_dispatcher_active_deliveries",
		Help: "Number of delivery goroutines currently in flight for this dispatcher process",
	})
)

func init() {
	prometheus.MustRegister(BacklogPending, BacklogInFlight, WorkerActive)
}
