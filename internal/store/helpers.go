// Copyright 2025 James Ross
package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// errNoRows aliases sql.ErrNoRows so callers can use errors.Is without
// importing database/sql directly in every file.
var errNoRows = sql.ErrNoRows

// sqlxSelectTx is a small adapter so claim queries built outside the
// Store's own builder/exec helpers (the raw SKIP LOCKED select) can still
// run inside the current transaction.
func sqlxSelectTx(ctx context.Context, tx *sqlx.Tx, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, tx, dest, query, args...)
}
