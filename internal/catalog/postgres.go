package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresWriter connects to the catalog and creates its tables.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Runs write sequentially.
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		log:  slog.With("component", "catalog"),
	}
	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// StartRun inserts the run row.
func (w *PostgresWriter) StartRun(ctx context.Context, run RunRecord) error {
	query := `
		INSERT INTO restore_runs (
			run_id, index_name, archive_uri, restore_path, window_start, window_end,
			dry_run, producer_version, producer_git_sha, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := w.pool.Exec(ctx, query,
		run.RunID,
		run.Index,
		run.ArchiveURI,
		run.RestorePath,
		run.WindowStart,
		run.WindowEnd,
		run.DryRun,
		run.ProducerVersion,
		nullable(run.ProducerGitSHA),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordBucket upserts the verdict of a bucket for a stage.
func (w *PostgresWriter) RecordBucket(ctx context.Context, rec BucketRecord) error {
	query := `
		INSERT INTO restore_buckets (run_id, bucket, stage, verdict, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, bucket, stage)
		DO UPDATE SET
			verdict = EXCLUDED.verdict,
			reason = EXCLUDED.reason,
			recorded_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query, rec.RunID, rec.Bucket, rec.Stage, rec.Verdict, nullable(rec.Reason))
	if err != nil {
		return fmt.Errorf("record bucket %s: %w", rec.Bucket, err)
	}
	return nil
}

// FinishRun stores the final status and counts of a run.
func (w *PostgresWriter) FinishRun(ctx context.Context, fin RunFinish) error {
	query := `
		UPDATE restore_runs
		SET status = $2, error_message = $3, selected = $4, rebuilt = $5,
		    rebuild_failed = $6, finished_at = $7
		WHERE run_id = $1
	`

	tag, err := w.pool.Exec(ctx, query,
		fin.RunID,
		fin.Status,
		nullable(fin.Error),
		fin.Selected,
		fin.Rebuilt,
		fin.RebuildFailed,
		fin.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", fin.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: run not found", fin.RunID)
	}
	return nil
}

// LastRestore returns when a bucket was last rebuilt successfully into index.
// The zero time is returned if it never was.
func (w *PostgresWriter) LastRestore(ctx context.Context, index, bucket string) (time.Time, error) {
	query := `
		SELECT b.recorded_at
		FROM restore_buckets b
		JOIN restore_runs r ON r.run_id = b.run_id
		WHERE r.index_name = $1 AND b.bucket = $2
		  AND b.stage = 'rebuild' AND b.verdict = 'succeeded'
		ORDER BY b.recorded_at DESC
		LIMIT 1
	`

	var at time.Time
	err := w.pool.QueryRow(ctx, query, index, bucket).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last restore of %s: %w", bucket, err)
	}
	return at, nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
