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

// ClaimBatch atomically selects up to batchSize eligible request_attempt
// rows for workerID under scope, per spec §4.A. Eligibility: scheduled_at
// has arrived, the row is untouched, the owning subscription and
// application are enabled and not soft-deleted, the subscription's scope
// dedication matches, and the subscription is either non-FIFO or this row
// currently holds (or may take) its FIFO slot.
//
// All claimed rows are picked and, for FIFO subscriptions, their
// fifo_subscription_state row is upserted, in a single transaction.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, scope model.Scope, batchSize int) ([]ClaimedAttempt, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.RollbackUnlessCommitted()

	now := time.Now().UTC()

	selectQuery := s.builder.Select(
		"ra.id", "ra.event_id", "ra.subscription_id", "ra.attempt_number",
		"ra.scheduled_at", "ra.picked_at", "ra.worker_id", "ra.succeeded_at",
		"ra.failed_at", "ra.response_id",
	).From("request_attempt ra").
		Join("subscription s ON s.id = ra.subscription_id").
		Join("application a ON a.id = s.application_id").
		Where(sq.LtOrEq{"ra.scheduled_at": now}).
		Where(sq.Eq{"ra.picked_at": nil}).
		Where(sq.Eq{"ra.succeeded_at": nil}).
		Where(sq.Eq{"ra.failed_at": nil}).
		Where(sq.Eq{"s.enabled": true}).
		Where(sq.Eq{"s.deleted_at": nil}).
		Where(sq.Eq{"a.deleted_at": nil}).
		Where(scopeFilter(scope, workerID)).
		Where(`(s.fifo_mode = false OR NOT EXISTS (
			SELECT 1 FROM fifo_subscription_state fs
			WHERE fs.subscription_id = s.id
			  AND fs.current_request_attempt_id IS NOT NULL
			  AND fs.current_request_attempt_id <> ra.id
		))`).
		OrderBy("ra.scheduled_at ASC", "ra.subscription_id ASC").
		Limit(uint64(batchSize)).
		Suffix("FOR UPDATE OF ra SKIP LOCKED")

	query, args, err := selectQuery.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build claim query")
	}
	query = s.db.Rebind(query)

	var rows []requestAttemptRow
	if err := sqlxSelectTx(ctx, tx.Tx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to select claimable attempts")
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	claimed := make([]ClaimedAttempt, 0, len(rows))
	fifoClaimed := map[uuid.UUID]bool{}
	for _, row := range rows {
		attempt := row.toModel()

		ev, sub, schedule, err := s.loadAttemptContext(ctx, tx.Tx, attempt)
		if err != nil {
			return nil, err
		}
		// The NOT EXISTS predicate is evaluated before any upsert below, so a
		// batch can hold several rows of one FIFO subscription; only the
		// first (earliest scheduled) takes the slot, the rest stay unpicked.
		if sub.FIFOMode {
			if fifoClaimed[sub.ID] {
				continue
			}
			fifoClaimed[sub.ID] = true
		}

		_, err = s.execBuilder(ctx, tx.Tx, s.builder.Update("request_attempt").
			Set("picked_at", now).
			Set("worker_id", workerID).
			Where(sq.Eq{"id": attempt.ID}))
		if err != nil {
			return nil, errors.Wrap(err, "failed to mark attempt picked")
		}
		attempt.PickedAt = &now
		attempt.WorkerID = &workerID

		if sub.FIFOMode {
			if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnClaim(sub.ID, attempt.ID, now)); err != nil {
				return nil, err
			}
		}

		claimed = append(claimed, ClaimedAttempt{
			Attempt:      attempt,
			Event:        ev,
			Subscription: sub,
			Schedule:     schedule,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func scopeFilter(scope model.Scope, workerID string) sq.Sqlizer {
	switch scope {
	case model.ScopePrivate:
		return sq.Expr("? = ANY(s.dedicated_workers)", workerID)
	default:
		return sq.Expr("array_length(s.dedicated_workers, 1) IS NULL")
	}
}

func (s *Store) loadAttemptContext(ctx context.Context, q queryer, attempt model.RequestAttempt) (model.Event, model.Subscription, model.RetrySchedule, error) {
	var evRow eventRow
	if err := s.getBuilder(ctx, q, &evRow, s.builder.Select("*").From("event").Where(sq.Eq{"id": attempt.EventID})); err != nil {
		return model.Event{}, model.Subscription{}, model.RetrySchedule{}, errors.Wrap(err, "failed to load event")
	}
	ev, err := evRow.toModel()
	if err != nil {
		return model.Event{}, model.Subscription{}, model.RetrySchedule{}, err
	}

	var subRow subscriptionRow
	if err := s.getBuilder(ctx, q, &subRow, s.builder.Select("*").From("subscription").Where(sq.Eq{"id": attempt.SubscriptionID})); err != nil {
		return model.Event{}, model.Subscription{}, model.RetrySchedule{}, errors.Wrap(err, "failed to load subscription")
	}
	sub, err := subRow.toModel()
	if err != nil {
		return model.Event{}, model.Subscription{}, model.RetrySchedule{}, err
	}

	schedule := model.DefaultRetrySchedule()
	if sub.RetryScheduleID != nil {
		var schedRow retryScheduleRow
		if err := s.getBuilder(ctx, q, &schedRow, s.builder.Select("*").From("retry_schedule").Where(sq.Eq{"id": *sub.RetryScheduleID})); err != nil {
			return model.Event{}, model.Subscription{}, model.RetrySchedule{}, errors.Wrap(err, "failed to load retry schedule")
		}
		schedule = schedRow.toModel()
	}

	return ev, sub, schedule, nil
}

func (s *Store) upsertFIFOState(ctx context.Context, tx execer, state model.FIFOSubscriptionState) error {
	_, err := s.execBuilder(ctx, tx, s.builder.Insert("fifo_subscription_state").
		Columns("subscription_id", "current_request_attempt_id", "last_completed_event_occurred_at", "updated_at").
		Values(state.SubscriptionID, state.CurrentRequestAttemptID, state.LastCompletedEventOccurredAt, state.UpdatedAt).
		Suffix(`ON CONFLICT (subscription_id) DO UPDATE SET
			current_request_attempt_id = EXCLUDED.current_request_attempt_id,
			last_completed_event_occurred_at = COALESCE(EXCLUDED.last_completed_event_occurred_at, fifo_subscription_state.last_completed_event_occurred_at),
			updated_at = EXCLUDED.updated_at`))
	return errors.Wrap(err, "failed to upsert fifo subscription state")
}

func (s *Store) loadFIFOState(ctx context.Context, q queryer, subscriptionID uuid.UUID) (*model.FIFOSubscriptionState, error) {
	var row struct {
		SubscriptionID               uuid.UUID     `db:"subscription_id"`
		CurrentRequestAttemptID      uuid.NullUUID `db:"current_request_attempt_id"`
		LastCompletedEventOccurredAt *time.Time    `db:"last_completed_event_occurred_at"`
		UpdatedAt                    time.Time     `db:"updated_at"`
	}
	err := s.getBuilder(ctx, q, &row, s.builder.Select("*").From("fifo_subscription_state").Where(sq.Eq{"subscription_id": subscriptionID}))
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := &model.FIFOSubscriptionState{
		SubscriptionID:               row.SubscriptionID,
		LastCompletedEventOccurredAt: row.LastCompletedEventOccurredAt,
		UpdatedAt:                    row.UpdatedAt,
	}
	if row.CurrentRequestAttemptID.Valid {
		id := row.CurrentRequestAttemptID.UUID
		state.CurrentRequestAttemptID = &id
	}
	return state, nil
}
