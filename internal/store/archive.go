// Copyright 2025 James Ross
package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ArchivableAttempt is one terminal delivery attempt eligible for cold-path
// export: a request_attempt joined to its response, the owning event and
// subscription, flattened for internal/archive's ClickHouse exporter.
type ArchivableAttempt struct {
	AttemptID      uuid.UUID `db:"attempt_id"`
	EventID        uuid.UUID `db:"event_id"`
	SubscriptionID uuid.UUID `db:"subscription_id"`
	EventType      string    `db:"event_type"`
	AttemptNumber  int       `db:"attempt_number"`
	ScheduledAt    time.Time `db:"scheduled_at"`
	CompletedAt    time.Time `db:"completed_at"`
	Succeeded      bool      `db:"succeeded"`
	HTTPStatus     *int      `db:"http_status"`
	TransportError *string   `db:"transport_error"`
	ElapsedMillis  *int64    `db:"elapsed_ms"`
	TargetURL      string    `db:"target_url"`
}

// SelectArchivable returns up to limit terminal request_attempt rows that
// completed before the given horizon, oldest first. Terminal rows without a
// response (should not normally occur) are excluded by the join.
func (s *Store) SelectArchivable(ctx context.Context, before time.Time, limit int) ([]ArchivableAttempt, error) {
	var out []ArchivableAttempt
	err := s.selectBuilder(ctx, s.db, &out, s.builder.Select(
		"ra.id AS attempt_id",
		"ra.event_id",
		"ra.subscription_id",
		"e.event_type",
		"ra.attempt_number",
		"ra.scheduled_at",
		"COALESCE(ra.succeeded_at, ra.failed_at) AS completed_at",
		"(ra.succeeded_at IS NOT NULL) AS succeeded",
		"r.http_status",
		"r.transport_error",
		"r.elapsed_ms",
		"s.target_url",
	).From("request_attempt ra").
		Join("event e ON e.id = ra.event_id").
		Join("subscription s ON s.id = ra.subscription_id").
		Join("response r ON r.id = ra.response_id").
		Where(sq.Or{sq.NotEq{"ra.succeeded_at": nil}, sq.NotEq{"ra.failed_at": nil}}).
		Where(sq.Lt{"COALESCE(ra.succeeded_at, ra.failed_at)": before}).
		OrderBy("COALESCE(ra.succeeded_at, ra.failed_at) ASC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to select archivable attempts")
	}
	return out, nil
}

// DeleteArchived removes request_attempt rows once internal/archive has
// confirmed they landed in ClickHouse. Their response rows are not deleted:
// the foreign key points from request_attempt to response, so nothing
// cascades. Never called for rows still in flight — callers must only
// pass ids returned by SelectArchivable.
func (s *Store) DeleteArchived(ctx context.Context, attemptIDs []uuid.UUID) error {
	if len(attemptIDs) == 0 {
		return nil
	}
	_, err := s.execBuilder(ctx, s.db, s.builder.Delete("request_attempt").Where(sq.Eq{"id": attemptIDs}))
	return errors.Wrap(err, "failed to delete archived attempts")
}
