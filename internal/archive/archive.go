// Copyright 2025 James Ross
// Package archive exports terminal request_attempt rows older than a
// retention window to ClickHouse for long-term analytics, then deletes them
// from the Store. It is a cold-path mover, never consulted by ClaimBatch or
// any other in-flight read path.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/config"
	"github.com/hook0/dispatcher/internal/store"
	"go.uber.org/zap"
)

// Exporter writes ArchivableAttempt batches to a ClickHouse table. A nil
// *Exporter (returned by New when cfg.DSN is empty) makes Run a no-op.
type Exporter struct {
	db    *sql.DB
	table string
	log   *zap.Logger
}

// New connects to ClickHouse and ensures the archive table exists. Returns
// (nil, nil) when cfg.DSN is empty, so callers can treat archival as always
// present and simply skip starting the runner.
func New(cfg config.Archive, log *zap.Logger) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.DSN},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	e := &Exporter{db: conn, table: cfg.Table, log: log}
	if err := e.ensureTable(cfg.Database); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exporter) ensureTable(database string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			attempt_id String,
			event_id String,
			subscription_id String,
			event_type LowCardinality(String),
			attempt_number Int32,
			scheduled_at DateTime64(3),
			completed_at DateTime64(3),
			succeeded UInt8,
			http_status Nullable(Int32),
			transport_error LowCardinality(String),
			elapsed_ms Nullable(Int64),
			target_url String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(completed_at)
		ORDER BY (subscription_id, completed_at, attempt_id)
	`, database, e.table)

	_, err := e.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("failed to ensure archive table: %w", err)
	}
	return nil
}

// Export inserts a batch of terminal attempts into ClickHouse.
func (e *Exporter) Export(ctx context.Context, attempts []store.ArchivableAttempt) error {
	if e == nil || len(attempts) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clickhouse batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			attempt_id, event_id, subscription_id, event_type, attempt_number,
			scheduled_at, completed_at, succeeded, http_status, transport_error,
			elapsed_ms, target_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.table))
	if err != nil {
		return fmt.Errorf("failed to prepare clickhouse insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		transportError := ""
		if a.TransportError != nil {
			transportError = *a.TransportError
		}
		if _, err := stmt.ExecContext(ctx,
			a.AttemptID.String(), a.EventID.String(), a.SubscriptionID.String(),
			a.EventType, a.AttemptNumber, a.ScheduledAt, a.CompletedAt, a.Succeeded,
			a.HTTPStatus, transportError, a.ElapsedMillis, a.TargetURL,
		); err != nil {
			return fmt.Errorf("failed to insert attempt %s: %w", a.AttemptID, err)
		}
	}

	return tx.Commit()
}

// Close releases the ClickHouse connection.
func (e *Exporter) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Runner periodically drains terminal request_attempt rows older than the
// retention horizon into ClickHouse, deleting each exported batch from the
// Store once it lands.
type Runner struct {
	store    *store.Store
	exporter *Exporter
	horizon  time.Duration
	batch    int
	interval time.Duration
	log      *zap.Logger
}

// NewRunner builds a Runner. Returns nil when exporter is nil (archival
// disabled), so the caller can skip starting its loop.
func NewRunner(st *store.Store, exporter *Exporter, cfg config.Archive, log *zap.Logger) *Runner {
	if exporter == nil {
		return nil
	}
	return &Runner{
		store:    st,
		exporter: exporter,
		horizon:  cfg.RetentionHorizon,
		batch:    cfg.BatchSize,
		interval: cfg.Interval,
		log:      log,
	}
}

// Run drains one batch per tick until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	if r == nil {
		return
	}
	interval := r.interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.log.Warn("archive drain failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) drainOnce(ctx context.Context) error {
	batch := r.batch
	if batch <= 0 {
		batch = 500
	}
	before := time.Now().UTC().Add(-r.horizon)

	attempts, err := r.store.SelectArchivable(ctx, before, batch)
	if err != nil {
		return fmt.Errorf("select archivable: %w", err)
	}
	if len(attempts) == 0 {
		return nil
	}

	if err := r.exporter.Export(ctx, attempts); err != nil {
		return fmt.Errorf("export to clickhouse: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.AttemptID)
	}
	if err := r.store.DeleteArchived(ctx, ids); err != nil {
		return fmt.Errorf("delete archived: %w", err)
	}

	r.log.Info("archived attempts", zap.Int("count", len(attempts)))
	return nil
}
