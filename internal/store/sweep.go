// Copyright 2025 James Ross
package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/fifo"
	"github.com/pkg/errors"
)

// SweepOrphans reclaims request_attempt rows whose picked_at predates
// horizon and which never reached a terminal state — the crash-recovery
// path of spec §4.A. It clears picked_at/worker_id and, for any FIFO
// subscription whose slot pointed at a reclaimed row, releases that slot.
// It returns the number of attempts reclaimed.
func (s *Store) SweepOrphans(ctx context.Context, horizon time.Duration) (int, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.RollbackUnlessCommitted()

	cutoff := time.Now().UTC().Add(-horizon)

	var orphans []requestAttemptRow
	if err := s.selectBuilder(ctx, tx.Tx, &orphans, s.builder.
		Select("*").
		From("request_attempt").
		Where(sq.Lt{"picked_at": cutoff}).
		Where(sq.Eq{"succeeded_at": nil}).
		Where(sq.Eq{"failed_at": nil}).
		Suffix("FOR UPDATE SKIP LOCKED")); err != nil {
		return 0, errors.Wrap(err, "failed to select orphaned attempts")
	}
	if len(orphans) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]uuid.UUID, len(orphans))
	for i, o := range orphans {
		ids[i] = o.ID
	}

	if _, err := s.execBuilder(ctx, tx.Tx, s.builder.Update("request_attempt").
		Set("picked_at", nil).
		Set("worker_id", nil).
		Where(sq.Eq{"id": ids})); err != nil {
		return 0, errors.Wrap(err, "failed to clear orphaned attempts")
	}

	now := time.Now().UTC()
	for _, o := range orphans {
		state, err := s.loadFIFOState(ctx, tx.Tx, o.SubscriptionID)
		if err != nil {
			return 0, err
		}
		if state == nil || !fifo.HoldsAttempt(*state, o.ID) {
			continue
		}
		if err := s.upsertFIFOState(ctx, tx.Tx, fifo.OnSweep(o.SubscriptionID, now)); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(orphans), nil
}
