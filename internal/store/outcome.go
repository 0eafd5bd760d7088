// Copyright 2025 James Ross
package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/fifo"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/pkg/errors"
)

// RecordOutcomeSuccess marks attemptID succeeded, links resp, and — for a
// FIFO subscription — releases its slot and advances the completion
// watermark. It also resets the subscription's consecutive-failure streak
// (spec §4.A).
func (s *Store) RecordOutcomeSuccess(ctx context.Context, attemptID uuid.UUID, resp model.Response, eventOccurredAt time.Time) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessCommitted()

	now := time.Now().UTC()

	subID, fifoMode, err := s.insertResponseAndCompleteAttempt(ctx, tx.Tx, attemptID, resp, now, true)
	if err != nil {
		return err
	}

	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Update("subscription").
		Set("consecutive_failures", 0).
		Set("first_failure_at", nil).
		Where(sq.Eq{"id": subID})); err != nil {
		return errors.Wrap(err, "failed to reset failure streak")
	}

	if fifoMode {
		if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnTerminal(subID, eventOccurredAt, now)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordOutcomeRetry marks attemptID failed, links resp, inserts a
// successor attempt scheduled at successorScheduledAt, and — for a FIFO
// subscription — swings the slot to the successor so the subscription
// remains blocked (spec §4.A, §4.E).
func (s *Store) RecordOutcomeRetry(ctx context.Context, attemptID uuid.UUID, resp model.Response, successorScheduledAt time.Time, successorAttemptNumber int) (uuid.UUID, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.RollbackUnlessCommitted()

	now := time.Now().UTC()

	subID, fifoMode, err := s.insertResponseAndCompleteAttempt(ctx, tx.Tx, attemptID, resp, now, false)
	if err != nil {
		return uuid.Nil, err
	}

	var original requestAttemptRow
	if err := s.getBuilder(ctx, tx.Tx, &original, s.builder.Select("*").From("request_attempt").Where(sq.Eq{"id": attemptID})); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to reload original attempt")
	}

	successorID := uuid.New()
	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Insert("request_attempt").
		Columns("id", "event_id", "subscription_id", "attempt_number", "scheduled_at").
		Values(successorID, original.EventID, original.SubscriptionID, successorAttemptNumber, successorScheduledAt)); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to insert successor attempt")
	}

	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Update("subscription").
		Set("consecutive_failures", sq.Expr("consecutive_failures + 1")).
		Set("first_failure_at", sq.Expr("COALESCE(first_failure_at, ?)", now)).
		Where(sq.Eq{"id": subID})); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to bump failure streak")
	}

	if fifoMode {
		if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnRetry(subID, successorID, now)); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return successorID, nil
}

// GiveUpOutcome reports the owning subscription's failure-streak state after
// a give-up, so the caller can decide whether to fan out an auto-disable
// notification.
type GiveUpOutcome struct {
	SubscriptionID      uuid.UUID
	ConsecutiveFailures int
	FirstFailureAt      time.Time
	AutoDisabled        bool
}

// RecordOutcomeGiveUp marks attemptID failed with no successor, links resp,
// and — for a FIFO subscription — releases its slot. When the subscription's
// consecutive-failure streak reaches autoDisableThreshold, it stamps
// auto_disabled_at and reports AutoDisabled so the caller can fan out a
// notification; a threshold of 0 disables the check entirely.
func (s *Store) RecordOutcomeGiveUp(ctx context.Context, attemptID uuid.UUID, resp model.Response, eventOccurredAt time.Time, autoDisableThreshold int) (GiveUpOutcome, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return GiveUpOutcome{}, err
	}
	defer tx.RollbackUnlessCommitted()

	now := time.Now().UTC()

	subID, fifoMode, err := s.insertResponseAndCompleteAttempt(ctx, tx.Tx, attemptID, resp, now, false)
	if err != nil {
		return GiveUpOutcome{}, err
	}

	var sub subscriptionRow
	if err := s.getBuilder(ctx, tx.Tx, &sub, s.builder.Select("*").From("subscription").Where(sq.Eq{"id": subID})); err != nil {
		return GiveUpOutcome{}, errors.Wrap(err, "failed to load subscription")
	}

	consecutiveFailures := sub.ConsecutiveFailures + 1
	firstFailureAt := now
	if sub.FirstFailureAt.Valid {
		firstFailureAt = sub.FirstFailureAt.Time
	}

	update := s.builder.Update("subscription").
		Set("consecutive_failures", consecutiveFailures).
		Set("first_failure_at", firstFailureAt).
		Where(sq.Eq{"id": subID})

	autoDisabled := autoDisableThreshold > 0 &&
		consecutiveFailures >= autoDisableThreshold &&
		!sub.AutoDisabledAt.Valid
	if autoDisabled {
		update = update.Set("auto_disabled_at", now).Set("enabled", false)
	}

	if _, err := s.execBuilder(ctx, tx.Tx, update); err != nil {
		return GiveUpOutcome{}, errors.Wrap(err, "failed to bump failure streak")
	}

	if fifoMode {
		if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnTerminal(subID, eventOccurredAt, now)); err != nil {
			return GiveUpOutcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return GiveUpOutcome{}, err
	}

	return GiveUpOutcome{
		SubscriptionID:      subID,
		ConsecutiveFailures: consecutiveFailures,
		FirstFailureAt:      firstFailureAt,
		AutoDisabled:        autoDisabled,
	}, nil
}

// insertResponseAndCompleteAttempt inserts resp, links it to attemptID, and
// sets succeeded_at or failed_at depending on success. It returns the
// owning subscription's id and fifo_mode flag so callers can apply the
// matching FIFO transition.
func (s *Store) insertResponseAndCompleteAttempt(ctx context.Context, tx execer, attemptID uuid.UUID, resp model.Response, now time.Time, success bool) (uuid.UUID, bool, error) {
	if resp.ID == uuid.Nil {
		resp.ID = uuid.New()
	}

	headers, err := headersJSON(resp.Headers)
	if err != nil {
		return uuid.Nil, false, errors.Wrap(err, "failed to marshal response headers")
	}

	var transportError *string
	if resp.TransportError != nil {
		te := string(*resp.TransportError)
		transportError = &te
	}

	if _, err := s.execBuilder(ctx, tx, s.builder.Insert("response").
		Columns("id", "http_status", "headers", "body", "transport_error", "elapsed_ms").
		Values(resp.ID, resp.HTTPStatus, headers, resp.Body, transportError, resp.ElapsedMillis)); err != nil {
		return uuid.Nil, false, errors.Wrap(err, "failed to insert response")
	}

	update := s.builder.Update("request_attempt").
		Set("response_id", resp.ID).
		Where(sq.Eq{"id": attemptID})
	if success {
		update = update.Set("succeeded_at", now)
	} else {
		update = update.Set("failed_at", now)
	}
	if _, err := s.execBuilder(ctx, tx, update); err != nil {
		return uuid.Nil, false, errors.Wrap(err, "failed to complete attempt")
	}

	var subID uuid.UUID
	var fifoMode bool
	row := struct {
		SubscriptionID uuid.UUID `db:"subscription_id"`
		FIFOMode       bool      `db:"fifo_mode"`
	}{}
	if err := s.getBuilder(ctx, tx.(queryer), &row, s.builder.
		Select("ra.subscription_id", "s.fifo_mode").
		From("request_attempt ra").
		Join("subscription s ON s.id = ra.subscription_id").
		Where(sq.Eq{"ra.id": attemptID})); err != nil {
		return uuid.Nil, false, errors.Wrap(err, "failed to load owning subscription")
	}
	subID, fifoMode = row.SubscriptionID, row.FIFOMode

	return subID, fifoMode, nil
}

func headersJSON(h map[string]string) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}
