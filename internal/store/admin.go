// Copyright 2025 James Ross
package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/fifo"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/pkg/errors"
)

// SubscriptionCounts is the per-subscription attempt breakdown the `stats`
// admin command reports.
type SubscriptionCounts struct {
	SubscriptionID uuid.UUID `db:"subscription_id"`
	Pending        int64     `db:"pending"`
	Picked         int64     `db:"picked"`
	Succeeded      int64     `db:"succeeded"`
	Failed         int64     `db:"failed"`
}

// SubscriptionStats reports request_attempt counts grouped by subscription
// and outcome, for the admin CLI's `stats` command.
func (s *Store) SubscriptionStats(ctx context.Context) ([]SubscriptionCounts, error) {
	var out []SubscriptionCounts
	err := s.selectBuilder(ctx, s.db, &out, s.builder.Select(
		"subscription_id",
		"COUNT(*) FILTER (WHERE picked_at IS NULL AND succeeded_at IS NULL AND failed_at IS NULL) AS pending",
		"COUNT(*) FILTER (WHERE picked_at IS NOT NULL AND succeeded_at IS NULL AND failed_at IS NULL) AS picked",
		"COUNT(*) FILTER (WHERE succeeded_at IS NOT NULL) AS succeeded",
		"COUNT(*) FILTER (WHERE failed_at IS NOT NULL) AS failed",
	).From("request_attempt").GroupBy("subscription_id").OrderBy("subscription_id"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute subscription stats")
	}
	return out, nil
}

// PeekAttempts returns the most recent n request attempts for a
// subscription, newest first, for the admin CLI's `peek` command.
func (s *Store) PeekAttempts(ctx context.Context, subscriptionID uuid.UUID, n int) ([]model.RequestAttempt, error) {
	if n <= 0 {
		n = 10
	}
	var rows []requestAttemptRow
	if err := s.selectBuilder(ctx, s.db, &rows, s.builder.
		Select("*").
		From("request_attempt").
		Where(sq.Eq{"subscription_id": subscriptionID}).
		OrderBy("scheduled_at DESC").
		Limit(uint64(n))); err != nil {
		return nil, errors.Wrap(err, "failed to peek attempts")
	}
	out := make([]model.RequestAttempt, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ForceGiveUp marks a picked-but-unresolved attempt as permanently failed
// without recording a response, for the admin CLI's `give-up` command —
// an operator unblocking a FIFO subscription stuck on a broken endpoint
// without waiting out its retry schedule.
func (s *Store) ForceGiveUp(ctx context.Context, attemptID uuid.UUID) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.RollbackUnlessCommitted()

	now := time.Now().UTC()

	var row requestAttemptRow
	if err := s.getBuilder(ctx, tx.Tx, &row, s.builder.Select("*").From("request_attempt").Where(sq.Eq{"id": attemptID})); err != nil {
		return errors.Wrap(err, "failed to load attempt")
	}
	attempt := row.toModel()
	if attempt.IsTerminal() {
		return errors.New("attempt is already terminal")
	}

	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Update("request_attempt").
		Set("failed_at", now).
		Where(sq.Eq{"id": attemptID})); err != nil {
		return errors.Wrap(err, "failed to force give-up")
	}

	var sub subscriptionRow
	if err := s.getBuilder(ctx, tx.Tx, &sub, s.builder.Select("*").From("subscription").Where(sq.Eq{"id": attempt.SubscriptionID})); err != nil {
		return errors.Wrap(err, "failed to load owning subscription")
	}
	if sub.FIFOMode {
		var ev eventRow
		occurredAt := now
		if err := s.getBuilder(ctx, tx.Tx, &ev, s.builder.Select("*").From("event").Where(sq.Eq{"id": attempt.EventID})); err == nil {
			occurredAt = ev.OccurredAt
		}
		if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnTerminal(attempt.SubscriptionID, occurredAt, now)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Replay re-enqueues a terminal (succeeded or failed) attempt's event as a
// brand-new pending request_attempt at attempt_number 0, for the admin
// CLI's `replay` command. It never mutates the original attempt row.
func (s *Store) Replay(ctx context.Context, attemptID uuid.UUID) (uuid.UUID, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.RollbackUnlessCommitted()

	var row requestAttemptRow
	if err := s.getBuilder(ctx, tx.Tx, &row, s.builder.Select("*").From("request_attempt").Where(sq.Eq{"id": attemptID})); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to load attempt")
	}
	attempt := row.toModel()
	if !attempt.IsTerminal() {
		return uuid.Nil, errors.New("attempt is not terminal; cancel or wait for it to complete before replaying")
	}

	replayID := uuid.New()
	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Insert("request_attempt").
		Columns("id", "event_id", "subscription_id", "attempt_number", "scheduled_at").
		Values(replayID, attempt.EventID, attempt.SubscriptionID, 0, time.Now().UTC())); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to insert replay attempt")
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return replayID, nil
}
