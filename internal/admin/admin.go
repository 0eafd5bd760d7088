// Copyright 2025 James Ross

// Package admin implements the operator-facing commands of cmd/hook0-admin:
// stats, peek, give-up, replay and sweep. None of these bypass the Store's
// transactional invariants — they call the same Store methods the
// dispatcher and reaper use, just from a one-shot CLI instead of a loop.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/store"
)

// defaultSweepHorizon matches internal/reaper's default when the operator
// doesn't override it on the command line.
const defaultSweepHorizon = 10 * time.Minute

// StatsResult is the per-subscription attempt breakdown printed by `stats`.
type StatsResult struct {
	Subscriptions []store.SubscriptionCounts `json:"subscriptions"`
}

// Stats reports request_attempt counts grouped by subscription and outcome.
func Stats(ctx context.Context, st *store.Store) (StatsResult, error) {
	counts, err := st.SubscriptionStats(ctx)
	if err != nil {
		return StatsResult{}, err
	}
	return StatsResult{Subscriptions: counts}, nil
}

// PeekResult is the attempt listing printed by `peek`.
type PeekResult struct {
	SubscriptionID string      `json:"subscription_id"`
	Attempts       []PeekEntry `json:"attempts"`
}

// PeekEntry summarizes one request_attempt row for operator display.
type PeekEntry struct {
	AttemptID     string `json:"attempt_id"`
	AttemptNumber int    `json:"attempt_number"`
	ScheduledAt   string `json:"scheduled_at"`
	State         string `json:"state"`
}

// Peek lists the most recent n request attempts for a subscription.
func Peek(ctx context.Context, st *store.Store, subscriptionID string, n int) (PeekResult, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return PeekResult{}, fmt.Errorf("invalid subscription id %q: %w", subscriptionID, err)
	}

	attempts, err := st.PeekAttempts(ctx, subID, n)
	if err != nil {
		return PeekResult{}, err
	}

	entries := make([]PeekEntry, len(attempts))
	for i, a := range attempts {
		entries[i] = PeekEntry{
			AttemptID:     a.ID.String(),
			AttemptNumber: a.AttemptNumber,
			ScheduledAt:   a.ScheduledAt.Format("2006-01-02T15:04:05Z07:00"),
			State:         attemptState(a),
		}
	}
	return PeekResult{SubscriptionID: subscriptionID, Attempts: entries}, nil
}

func attemptState(a interface {
	IsTerminal() bool
	IsInFlight() bool
}) string {
	switch {
	case a.IsInFlight():
		return "in_flight"
	case a.IsTerminal():
		return "terminal"
	default:
		return "pending"
	}
}

// GiveUp forces a picked-but-unresolved attempt to a permanent failure,
// for unblocking a FIFO subscription stuck on a broken endpoint.
func GiveUp(ctx context.Context, st *store.Store, attemptID string) error {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return fmt.Errorf("invalid attempt id %q: %w", attemptID, err)
	}
	return st.ForceGiveUp(ctx, id)
}

// ReplayResult reports the id of the fresh attempt row `replay` inserted.
type ReplayResult struct {
	ReplayAttemptID string `json:"replay_attempt_id"`
}

// Replay re-enqueues a terminal attempt's event as a fresh pending attempt.
func Replay(ctx context.Context, st *store.Store, attemptID string) (ReplayResult, error) {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("invalid attempt id %q: %w", attemptID, err)
	}
	replayID, err := st.Replay(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{ReplayAttemptID: replayID.String()}, nil
}

// SweepResult reports how many orphaned attempts a manual sweep reclaimed.
type SweepResult struct {
	Reclaimed int `json:"reclaimed"`
}

// Sweep runs one orphan-sweep pass on demand, outside the reaper's ticker.
func Sweep(ctx context.Context, st *store.Store, horizonSeconds int) (SweepResult, error) {
	horizon := defaultSweepHorizon
	if horizonSeconds > 0 {
		horizon = time.Duration(horizonSeconds) * time.Second
	}
	n, err := st.SweepOrphans(ctx, horizon)
	if err != nil {
		return SweepResult{}, err
	}
	return SweepResult{Reclaimed: n}, nil
}
