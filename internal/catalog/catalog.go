// Package catalog records restore history in an optional PostgreSQL catalog.
package catalog

import (
	"context"
	"time"
)

// Config holds catalog configuration. An empty DSN disables the catalog.
type Config struct {
	PostgresDSN string
}

// Writer records restore runs and per-bucket verdicts.
type Writer interface {
	StartRun(ctx context.Context, run RunRecord) error
	RecordBucket(ctx context.Context, rec BucketRecord) error
	FinishRun(ctx context.Context, fin RunFinish) error
	Close() error
}

// RunRecord describes a restore run when it starts.
type RunRecord struct {
	RunID           string
	Index           string
	ArchiveURI      string
	RestorePath     string
	WindowStart     time.Time
	WindowEnd       time.Time
	DryRun          bool
	ProducerVersion string
	ProducerGitSHA  string
	StartedAt       time.Time
}

// BucketRecord is the verdict of one bucket at one stage.
type BucketRecord struct {
	RunID   string
	Bucket  string
	Stage   string // "relocate" | "integrity" | "rebuild"
	Verdict string
	Reason  string
}

// RunFinish closes a run.
type RunFinish struct {
	RunID         string
	Status        string // "completed" | "failed"
	Error         string
	Selected      int
	Rebuilt       int
	RebuildFailed int
	FinishedAt    time.Time
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

type noopWriter struct{}

func (noopWriter) StartRun(context.Context, RunRecord) error        { return nil }
func (noopWriter) RecordBucket(context.Context, BucketRecord) error { return nil }
func (noopWriter) FinishRun(context.Context, RunFinish) error       { return nil }
func (noopWriter) Close() error                                     { return nil }
