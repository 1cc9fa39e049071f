// Package restore moves frozen buckets back into service.
//
// A run walks a fixed sequence of stages: resolve the time window, select
// the buckets it covers, copy them out of the archive, optionally verify
// their integrity, rebuild them, write the reports and optionally restart
// the service. Stages never re-enter an earlier one.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/audit"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/catalog"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/config"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/metrics"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/report"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/storage"
)

// Restorer orchestrates one restore run.
type Restorer struct {
	cfg     config.Config
	archive storage.Archive
	engine  engine.Engine
	catalog catalog.Writer
	audit   audit.Emitter
	metrics *metrics.Metrics
	out     io.Writer
	now     func() time.Time
}

// Option customizes a Restorer.
type Option func(*Restorer)

// WithCatalog records the run in w.
func WithCatalog(w catalog.Writer) Option {
	return func(r *Restorer) { r.catalog = w }
}

// WithAudit appends an audit event for every run to em.
func WithAudit(em audit.Emitter) Option {
	return func(r *Restorer) { r.audit = em }
}

// WithMetrics observes the run on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Restorer) { r.metrics = m }
}

// WithOutput sets where the restart output is copied. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Restorer) { r.out = w }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Restorer) { r.now = now }
}

// New creates a Restorer.
func New(cfg config.Config, archive storage.Archive, eng engine.Engine, opts ...Option) *Restorer {
	r := &Restorer{
		cfg:     cfg,
		archive: archive,
		engine:  eng,
		out:     os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog, _ = catalog.NewWriter(context.Background(), catalog.Config{})
	}
	if r.audit == nil {
		r.audit, _ = audit.NewEmitter("")
	}
	if r.metrics == nil {
		r.metrics = metrics.New(cfg.Metrics.Namespace)
	}
	return r
}

// restoreHistory is implemented by catalogs that can tell when a bucket
// was last restored.
type restoreHistory interface {
	LastRestore(ctx context.Context, index, bucket string) (time.Time, error)
}

// Run executes the pipeline. Per-bucket rebuild failures do not make Run
// fail; they are part of the returned Summary and the rebuild report.
func (r *Restorer) Run(ctx context.Context) (*Summary, error) {
	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.RunLogger(runID, r.cfg.Restore.Index)

	sum := &Summary{
		RunID:     runID,
		DryRun:    r.cfg.DryRun,
		StartedAt: r.now(),
	}

	reports, err := report.NewWriter(r.cfg.Reports.Dir)
	if err != nil {
		return sum, err
	}

	runErr := r.run(ctx, sum, reports, log)
	if err := r.finish(ctx, sum, reports, runErr, log); err != nil && runErr == nil {
		runErr = err
	}
	return sum, runErr
}

func (r *Restorer) run(ctx context.Context, sum *Summary, reports *report.Writer, log *slog.Logger) error {
	labels := metrics.Labels{Index: r.cfg.Restore.Index}

	// Resolve
	loc, err := r.cfg.Location()
	if err != nil {
		return err
	}
	window, err := bucket.ResolveWindow(r.cfg.Window.Start, r.cfg.Window.End, loc)
	if err != nil {
		return err
	}
	sum.Window = window

	err = r.catalog.StartRun(ctx, catalog.RunRecord{
		RunID:           sum.RunID,
		Index:           r.cfg.Restore.Index,
		ArchiveURI:      r.archive.URI(""),
		RestorePath:     r.cfg.Restore.Path,
		WindowStart:     time.Unix(window.Start, 0).UTC(),
		WindowEnd:       time.Unix(window.End, 0).UTC(),
		DryRun:          r.cfg.DryRun,
		ProducerVersion: Version,
		ProducerGitSHA:  GitSHA,
		StartedAt:       sum.StartedAt,
	})
	sum.catalogStarted = err == nil
	if err := r.catalogErr(err, log); err != nil {
		return err
	}

	// Select
	err = r.timed("select", func() error {
		names, err := r.archive.ListBuckets(ctx)
		if err != nil {
			return err
		}
		sum.Selected, err = bucket.Select(names, window)
		return err
	})
	if err != nil {
		return err
	}
	r.metrics.AddBucketsSelected(labels, sum.Selected.Len())
	log.Info("buckets selected",
		"count", sum.Selected.Len(),
		"window", window.String(),
		"archive", r.archive.URI(""),
	)
	r.logHistory(ctx, sum.Selected, log)

	if r.cfg.DryRun {
		for _, id := range sum.Selected.IDs() {
			log.Info("would restore bucket", "bucket", id.Name, "source", r.archive.URI(id.Name))
		}
		return nil
	}

	// Relocate
	root, err := filepath.Abs(r.cfg.Restore.Path)
	if err != nil {
		return fmt.Errorf("resolve restore path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create restore path %s: %w", root, err)
	}

	err = r.timed("relocate", func() error {
		var err error
		sum.Relocated, err = Relocate(ctx, r.archive, root, sum.Selected, log)
		return err
	})
	for i := 0; i < sum.Relocated; i++ {
		r.metrics.IncBucketsRelocated(labels)
	}
	if err != nil {
		r.metrics.IncRelocationErrors(metrics.Labels{Index: labels.Index, Backend: r.cfg.Archive.Backend})
		return err
	}
	log.Info("buckets relocated", "count", sum.Relocated, "restore_path", root)
	if err := r.recordBuckets(ctx, sum.RunID, "relocate", relocatedRecords(sum.Selected), log); err != nil {
		return err
	}

	// Verify
	toRebuild := sum.Selected
	if r.cfg.Integrity.Enabled {
		verifier := &Verifier{
			Engine:      r.engine,
			Root:        root,
			PurgeFailed: r.cfg.Integrity.PurgeFailed,
			Log:         log.With("stage", "integrity"),
			OnResult: func(res IntegrityResult) {
				r.metrics.IncIntegrityResult(metrics.Labels{Index: labels.Index, Verdict: string(res.Verdict)})
			},
		}

		var outcome IntegrityOutcome
		err := r.timed("integrity", func() error {
			var err error
			outcome, err = verifier.Verify(ctx, sum.Selected)
			return err
		})
		if err != nil {
			if errors.Is(err, engine.ErrUnexpectedReport) || errors.Is(err, engine.ErrToolFailed) {
				r.metrics.IncToolErrors(metrics.Labels{Index: labels.Index, Operation: "check-integrity"})
			}
			return err
		}
		sum.Integrity = &outcome
		toRebuild = outcome.Remaining

		log.Info("data integrity checked",
			"failed", len(outcome.Failed),
			"passed", len(outcome.Passed),
			"unverifiable", len(outcome.Unverifiable),
			"to_rebuild", toRebuild.Len(),
		)

		path, err := reports.Write(integrityReport(r.now(), outcome))
		if err != nil {
			return err
		}
		sum.Reports = append(sum.Reports, path)
		log.Info("integrity report written", "path", path)

		if err := r.recordBuckets(ctx, sum.RunID, "integrity", integrityRecords(outcome), log); err != nil {
			return err
		}
	}

	// Rebuild
	rebuilder := &Rebuilder{
		Engine: r.engine,
		Root:   root,
		Index:  r.cfg.Restore.Index,
		Log:    log.With("stage", "rebuild"),
		OnResult: func(res RebuildResult) {
			r.metrics.IncRebuildResult(metrics.Labels{Index: labels.Index, Verdict: string(res.Verdict)})
			if res.Err != nil {
				r.metrics.IncToolErrors(metrics.Labels{Index: labels.Index, Operation: "rebuild"})
			}
		},
	}

	var rebuilt RebuildOutcome
	err = r.timed("rebuild", func() error {
		var err error
		rebuilt, err = rebuilder.Rebuild(ctx, toRebuild)
		return err
	})
	if err != nil {
		return err
	}
	sum.Rebuild = &rebuilt

	log.Info("buckets rebuilt",
		"succeeded", len(rebuilt.Succeeded()),
		"failed", len(rebuilt.Failed()),
	)

	path, err := reports.Write(rebuildReport(r.now(), rebuilt))
	if err != nil {
		return err
	}
	sum.Reports = append(sum.Reports, path)
	log.Info("rebuild report written", "path", path)

	if err := r.recordBuckets(ctx, sum.RunID, "rebuild", rebuildRecords(rebuilt), log); err != nil {
		return err
	}

	// Restart
	if r.cfg.Splunk.Restart {
		err := r.timed("restart", func() error {
			return Restart(ctx, r.engine, r.out, log)
		})
		if err != nil {
			r.metrics.IncToolErrors(metrics.Labels{Index: labels.Index, Operation: "restart"})
			return err
		}
		sum.Restarted = true
	}

	return nil
}

// finish writes the manifest, the metrics file and the catalog run status.
// These happen whether or not the run succeeded.
func (r *Restorer) finish(ctx context.Context, sum *Summary, reports *report.Writer, runErr error, log *slog.Logger) error {
	sum.FinishedAt = r.now()
	labels := metrics.Labels{Index: r.cfg.Restore.Index}
	r.metrics.SetLastRun(labels, sum.FinishedAt, runErr == nil)

	if r.cfg.Reports.Manifest {
		path, err := reports.WriteManifest(r.manifest(sum, runErr))
		if err != nil {
			log.Warn("failed to write run manifest", "error", err)
		} else {
			sum.Reports = append(sum.Reports, path)
		}
	}

	if r.cfg.Metrics.Textfile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
			log.Warn("failed to write metrics", "error", err)
		}
	}

	if err := r.audit.Emit(ctx, r.auditEvent(sum, runErr)); err != nil {
		log.Warn("failed to write audit event", "error", err)
	}

	if !sum.catalogStarted {
		return nil
	}
	fin := catalog.RunFinish{
		RunID:      sum.RunID,
		Status:     "completed",
		Selected:   sum.Selected.Len(),
		FinishedAt: sum.FinishedAt,
	}
	if sum.Rebuild != nil {
		fin.Rebuilt = len(sum.Rebuild.Succeeded())
		fin.RebuildFailed = len(sum.Rebuild.Failed())
	}
	if runErr != nil {
		fin.Status = "failed"
		fin.Error = runErr.Error()
	}
	// The run must be closed even if ctx was cancelled.
	return r.catalogErr(r.catalog.FinishRun(context.WithoutCancel(ctx), fin), log)
}

func (r *Restorer) manifest(sum *Summary, runErr error) *report.Manifest {
	m := &report.Manifest{
		RunID:   sum.RunID,
		Index:   r.cfg.Restore.Index,
		Archive: r.archive.URI(""),
		Restore: r.cfg.Restore.Path,
		DryRun:  sum.DryRun,
		Window: report.WindowInfo{
			Start:      time.Unix(sum.Window.Start, 0).UTC(),
			End:        time.Unix(sum.Window.End, 0).UTC(),
			StartEpoch: sum.Window.Start,
			EndEpoch:   sum.Window.End,
		},
		Counts: report.Counts{
			Selected:  sum.Selected.Len(),
			Relocated: sum.Relocated,
		},
		Reports: sum.Reports,
		Producer: report.ProducerInfo{
			Name:    "bucket-restorer",
			Version: Version,
			GitSHA:  GitSHA,
		},
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
	}
	if sum.Integrity != nil {
		m.Counts.Passed = len(sum.Integrity.Passed)
		m.Counts.Failed = len(sum.Integrity.Failed)
		m.Counts.Unverifiable = len(sum.Integrity.Unverifiable)
	}
	if sum.Rebuild != nil {
		m.Counts.Rebuilt = len(sum.Rebuild.Succeeded())
		m.Counts.RebuildFail = len(sum.Rebuild.Failed())
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}
	return m
}

func (r *Restorer) auditEvent(sum *Summary, runErr error) audit.Event {
	evt := audit.Event{
		Timestamp: sum.FinishedAt.UTC(),
		Run: audit.RunInfo{
			RunID:       sum.RunID,
			Index:       r.cfg.Restore.Index,
			Archive:     r.archive.URI(""),
			RestorePath: r.cfg.Restore.Path,
			WindowStart: time.Unix(sum.Window.Start, 0).UTC(),
			WindowEnd:   time.Unix(sum.Window.End, 0).UTC(),
			Status:      "completed",
		},
		Producer: audit.ProducerInfo{
			Name:    "bucket-restorer",
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
	if runErr != nil {
		evt.Run.Status = "failed"
		evt.Run.Error = runErr.Error()
	}

	verdicts := make(map[string]*audit.BucketVerdict, sum.Selected.Len())
	for _, id := range sum.Selected.IDs() {
		evt.Buckets = append(evt.Buckets, audit.BucketVerdict{Bucket: id.Name})
	}
	for i := range evt.Buckets {
		verdicts[evt.Buckets[i].Bucket] = &evt.Buckets[i]
	}
	if sum.Integrity != nil {
		for _, res := range sum.Integrity.Results {
			if v, ok := verdicts[res.Bucket.Name]; ok {
				v.Integrity = string(res.Verdict)
				if res.Verdict == IntegrityFailed {
					v.Reason = res.Reason
				}
			}
		}
	}
	if sum.Rebuild != nil {
		for _, res := range sum.Rebuild.Results {
			if v, ok := verdicts[res.Bucket.Name]; ok {
				v.Rebuild = string(res.Verdict)
				if res.Err != nil {
					v.Reason = res.Err.Error()
				}
			}
		}
	}
	return evt
}

func (r *Restorer) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.ObserveStageDuration(metrics.Labels{Index: r.cfg.Restore.Index, Stage: stage}, time.Since(start))
	return err
}

// catalogErr turns a catalog failure into a run error in strict mode and a
// warning otherwise.
func (r *Restorer) catalogErr(err error, log *slog.Logger) error {
	if err == nil {
		return nil
	}
	r.metrics.IncCatalogErrors(metrics.Labels{Index: r.cfg.Restore.Index})
	if r.cfg.Catalog.Strict {
		return fmt.Errorf("catalog: %w", err)
	}
	log.Warn("failed to write restore catalog", "error", err)
	return nil
}

func (r *Restorer) recordBuckets(ctx context.Context, runID, stage string, recs []catalog.BucketRecord, log *slog.Logger) error {
	for _, rec := range recs {
		rec.RunID = runID
		rec.Stage = stage
		if err := r.catalog.RecordBucket(ctx, rec); err != nil {
			// One warning per stage is enough in lenient mode.
			return r.catalogErr(err, log)
		}
	}
	return nil
}

func (r *Restorer) logHistory(ctx context.Context, set bucket.Set, log *slog.Logger) {
	h, ok := r.catalog.(restoreHistory)
	if !ok {
		return
	}
	for _, id := range set.IDs() {
		at, err := h.LastRestore(ctx, r.cfg.Restore.Index, id.Name)
		if err != nil {
			log.Warn("failed to read restore history", "error", err)
			return
		}
		if !at.IsZero() {
			logging.BucketLogger(log, id.Name).Info("bucket was restored before", "restored_at", at)
		}
	}
}

func relocatedRecords(set bucket.Set) []catalog.BucketRecord {
	recs := make([]catalog.BucketRecord, 0, set.Len())
	for _, id := range set.IDs() {
		recs = append(recs, catalog.BucketRecord{Bucket: id.Name, Verdict: "copied"})
	}
	return recs
}

func integrityRecords(o IntegrityOutcome) []catalog.BucketRecord {
	recs := make([]catalog.BucketRecord, 0, len(o.Results))
	for _, res := range o.Results {
		recs = append(recs, catalog.BucketRecord{
			Bucket:  res.Bucket.Name,
			Verdict: string(res.Verdict),
			Reason:  res.Reason,
		})
	}
	return recs
}

func rebuildRecords(o RebuildOutcome) []catalog.BucketRecord {
	recs := make([]catalog.BucketRecord, 0, len(o.Results))
	for _, res := range o.Results {
		rec := catalog.BucketRecord{Bucket: res.Bucket.Name, Verdict: string(res.Verdict)}
		if res.Err != nil {
			rec.Reason = res.Err.Error()
		}
		recs = append(recs, rec)
	}
	return recs
}

func integrityReport(ts time.Time, o IntegrityOutcome) report.RunReport {
	var failures []report.Failure
	for _, res := range o.Results {
		if res.Verdict == IntegrityFailed {
			failures = append(failures, report.Failure{Bucket: res.Bucket.Name, Reason: res.Reason})
		}
	}
	return report.Integrity(ts, names(o.Failed), names(o.Passed), names(o.Unverifiable), failures)
}

func rebuildReport(ts time.Time, o RebuildOutcome) report.RunReport {
	var failures []report.Failure
	for _, res := range o.Results {
		if res.Err != nil {
			failures = append(failures, report.Failure{Bucket: res.Bucket.Name, Reason: res.Err.Error()})
		}
	}
	return report.Rebuild(ts, names(o.Succeeded()), names(o.Failed()), failures)
}
