// Copyright 2025 James Ross
// Package fifo holds the pure decision rules for the per-subscription FIFO
// slot described in spec §4.E. The Store embeds these rules inside its
// claim and outcome transactions; this package itself performs no I/O so
// the rules can be tested without a database.
package fifo

import (
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/model"
)

// Eligible reports whether a candidate attempt for a FIFO subscription may
// be claimed given the subscription's current FIFO state. A subscription
// with no FIFO-state row yet, or one whose slot is empty, or one whose slot
// is already held by this exact attempt (a retry successor), is eligible.
func Eligible(state *model.FIFOSubscriptionState, candidateAttemptID uuid.UUID) bool {
	if state == nil {
		return true
	}
	if state.CurrentRequestAttemptID == nil {
		return true
	}
	return *state.CurrentRequestAttemptID == candidateAttemptID
}

// OnClaim returns the FIFO state update to apply when attemptID is claimed
// by a worker. Callers must write this inside the same transaction as the
// attempt's picked_at/worker_id update (spec §5).
func OnClaim(subscriptionID, attemptID uuid.UUID, now time.Time) model.FIFOSubscriptionState {
	id := attemptID
	return model.FIFOSubscriptionState{
		SubscriptionID:          subscriptionID,
		CurrentRequestAttemptID: &id,
		UpdatedAt:               now,
	}
}

// OnTerminal returns the FIFO state update to apply when an attempt reaches
// a terminal state (success or give-up): the slot is released and the
// watermark advances.
func OnTerminal(subscriptionID uuid.UUID, eventOccurredAt, now time.Time) model.FIFOSubscriptionState {
	return model.FIFOSubscriptionState{
		SubscriptionID:               subscriptionID,
		CurrentRequestAttemptID:      nil,
		LastCompletedEventOccurredAt: &eventOccurredAt,
		UpdatedAt:                    now,
	}
}

// OnRetry returns the FIFO state update to apply when attemptID fails
// retryably and spawns successorID: the slot swings to the successor in the
// same transaction, so no other attempt can slip into the gap (spec §4.E).
func OnRetry(subscriptionID, successorID uuid.UUID, now time.Time) model.FIFOSubscriptionState {
	id := successorID
	return model.FIFOSubscriptionState{
		SubscriptionID:          subscriptionID,
		CurrentRequestAttemptID: &id,
		UpdatedAt:               now,
	}
}

// OnSweep returns the FIFO state update to apply when the orphan sweeper
// reclaims attemptID, which was the subscription's holder. The slot is
// released exactly as if the attempt had terminated, except no watermark
// advances (the attempt did not complete).
func OnSweep(subscriptionID uuid.UUID, now time.Time) model.FIFOSubscriptionState {
	return model.FIFOSubscriptionState{
		SubscriptionID:          subscriptionID,
		CurrentRequestAttemptID: nil,
		UpdatedAt:               now,
	}
}

// HoldsAttempt reports whether state's current slot is occupied by
// attemptID, used by the sweeper to decide whether a reclaimed orphan was
// the FIFO holder and therefore needs its slot cleared.
func HoldsAttempt(state model.FIFOSubscriptionState, attemptID uuid.UUID) bool {
	return state.CurrentRequestAttemptID != nil && *state.CurrentRequestAttemptID == attemptID
}
