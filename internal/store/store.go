// Copyright 2025 James Ross
// Package store implements Hook0's durable relational backing: a single
// Postgres database that holds events, subscriptions, request attempts,
// responses and FIFO subscription state, and doubles as the work queue via
// SELECT ... FOR UPDATE SKIP LOCKED row claims.
package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Store wraps a Postgres connection pool with the transaction helpers and
// claim/outcome operations the Dispatcher depends on.
type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// New opens a connection pool against databaseURL (a postgres:// DSN).
func New(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	return &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity; cmd/hook0-dispatcher uses it as its /readyz
// check. New already fails fast on an unreachable database_url, since
// sqlx.Connect pings.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// queryer constrains sqlx usage to resources that can run reads, so the
// same helper works against either *sqlx.DB or a *Transaction.
type queryer interface {
	sqlx.QueryerContext
}

type execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	DriverName() string
}

func (s *Store) getBuilder(ctx context.Context, q queryer, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}
	query = s.db.Rebind(query)
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func (s *Store) selectBuilder(ctx context.Context, q queryer, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}
	query = s.db.Rebind(query)
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func (s *Store) execBuilder(ctx context.Context, e execer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build sql")
	}
	query = s.db.Rebind(query)
	return e.ExecContext(ctx, query, args...)
}

// Transaction wraps *sqlx.Tx with commit tracking so deferred cleanup can
// roll back any transaction that wasn't explicitly committed — the
// mechanism by which a claimed-but-unrecorded attempt is never silently
// lost (spec §7).
type Transaction struct {
	*sqlx.Tx
	store     *Store
	committed bool
}

func (s *Store) beginTx(ctx context.Context) (*Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return &Transaction{Tx: tx, store: s}, nil
}

// Commit commits the pending transaction.
func (t *Transaction) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	t.committed = true
	return nil
}

// RollbackUnlessCommitted rolls back the transaction unless Commit already
// succeeded. Call this in a defer immediately after beginTx.
func (t *Transaction) RollbackUnlessCommitted() {
	if t.committed {
		return
	}
	_ = t.Tx.Rollback()
}
