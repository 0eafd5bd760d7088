// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/hook0/dispatcher/internal/store"
	"go.uber.org/zap"
)

// StartBacklogSampler periodically samples the Store's pending and in-flight
// request_attempt counts and updates BacklogPending/BacklogInFlight. It is
// purely observational: the dispatcher's claim loop never consults it.
func StartBacklogSampler(ctx context.Context, st *store.Store, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pending, inFlight, err := st.CountPending(ctx)
				if err != nil {
					log.Debug("backlog sample failed", Err(err))
					continue
				}
				BacklogPending.Set(float64(pending))
				BacklogInFlight.Set(float64(inFlight))
			}
		}
	}()
}
