// Copyright 2025 James Ross
package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// CountPending reports how many request_attempt rows are due for claim
// (scheduled_at has arrived, not yet picked, not terminal) and
// how many are picked but not yet terminal (in flight). Used only for
// backlog observability; never consulted by ClaimBatch itself.
func (s *Store) CountPending(ctx context.Context) (pending int64, inFlight int64, err error) {
	now := time.Now().UTC()

	if err := s.getBuilder(ctx, s.db, &pending, s.builder.
		Select("COUNT(*)").
		From("request_attempt").
		Where(sq.LtOrEq{"scheduled_at": now}).
		Where(sq.Eq{"picked_at": nil, "succeeded_at": nil, "failed_at": nil})); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count pending attempts")
	}

	if err := s.getBuilder(ctx, s.db, &inFlight, s.builder.
		Select("COUNT(*)").
		From("request_attempt").
		Where(sq.NotEq{"picked_at": nil}).
		Where(sq.Eq{"succeeded_at": nil, "failed_at": nil})); err != nil {
		return 0, 0, errors.Wrap(err, "failed to count in-flight attempts")
	}

	return pending, inFlight, nil
}
