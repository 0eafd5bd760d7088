// Copyright 2025 James Ross
package fifo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/model"
)

func TestEligible_NoStateRowYet(t *testing.T) {
	if !Eligible(nil, uuid.New()) {
		t.Fatal("a subscription with no FIFO state row yet must be eligible")
	}
}

func TestEligible_EmptySlot(t *testing.T) {
	state := &model.FIFOSubscriptionState{}
	if !Eligible(state, uuid.New()) {
		t.Fatal("an empty slot must be eligible")
	}
}

func TestEligible_HeldBySameAttempt(t *testing.T) {
	id := uuid.New()
	state := &model.FIFOSubscriptionState{CurrentRequestAttemptID: &id}
	if !Eligible(state, id) {
		t.Fatal("the attempt holding the slot must be eligible for itself")
	}
}

func TestEligible_HeldByOtherAttempt(t *testing.T) {
	holder := uuid.New()
	state := &model.FIFOSubscriptionState{CurrentRequestAttemptID: &holder}
	if Eligible(state, uuid.New()) {
		t.Fatal("a different attempt must not be eligible while the slot is held")
	}
}

func TestOnRetry_SwingsSlotToSuccessor(t *testing.T) {
	sub := uuid.New()
	successor := uuid.New()
	now := time.Now()

	got := OnRetry(sub, successor, now)
	if got.CurrentRequestAttemptID == nil || *got.CurrentRequestAttemptID != successor {
		t.Fatalf("expected slot to hold successor %v, got %+v", successor, got.CurrentRequestAttemptID)
	}
}

func TestOnTerminal_ReleasesSlotAndAdvancesWatermark(t *testing.T) {
	sub := uuid.New()
	occurredAt := time.Now().Add(-time.Hour)
	now := time.Now()

	got := OnTerminal(sub, occurredAt, now)
	if got.CurrentRequestAttemptID != nil {
		t.Fatal("expected slot to be released on terminal outcome")
	}
	if got.LastCompletedEventOccurredAt == nil || !got.LastCompletedEventOccurredAt.Equal(occurredAt) {
		t.Fatal("expected watermark to advance to the completed event's occurred_at")
	}
}

func TestOnSweep_ReleasesSlotWithoutWatermark(t *testing.T) {
	sub := uuid.New()
	got := OnSweep(sub, time.Now())
	if got.CurrentRequestAttemptID != nil {
		t.Fatal("expected slot to be released on sweep")
	}
	if got.LastCompletedEventOccurredAt != nil {
		t.Fatal("a sweep is not a completion; watermark must not advance")
	}
}

func TestHoldsAttempt(t *testing.T) {
	id := uuid.New()
	state := model.FIFOSubscriptionState{CurrentRequestAttemptID: &id}
	if !HoldsAttempt(state, id) {
		t.Fatal("expected HoldsAttempt to report true for the current holder")
	}
	if HoldsAttempt(state, uuid.New()) {
		t.Fatal("expected HoldsAttempt to report false for a different attempt")
	}
}
