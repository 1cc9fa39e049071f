package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/audit"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/catalog"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/config"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/metrics"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/restore"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args, os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bucket-restorer: %v\n", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Printf("bucket-restorer %s (%s)\n", restore.Version, restore.GitSHA)
		return 0
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	log := logging.Component("main")
	log.Info("bucket restorer starting", "version", restore.Version, "git_sha", restore.GitSHA)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Warn("received signal, stopping after the current bucket", "signal", sig.String())
		cancel()
	}()

	archive, err := storage.NewArchive(storage.ArchiveConfig{
		Backend:    cfg.Archive.Backend,
		LocalDir:   cfg.Archive.Path,
		GCSBucket:  cfg.Archive.Bucket,
		S3Bucket:   cfg.Archive.Bucket,
		S3Endpoint: cfg.Archive.Endpoint,
		S3Region:   cfg.Archive.Region,
		URL:        cfg.Archive.URL,
		Prefix:     cfg.Archive.Prefix,
	})
	if err != nil {
		log.Error("failed to open archive", "error", err)
		return 1
	}
	defer archive.Close()

	eng, err := engine.NewCLI(engine.CLIConfig{
		Home:           cfg.Splunk.Home,
		Binary:         cfg.Splunk.Binary,
		CheckTimeout:   cfg.Splunk.CheckTimeout,
		RebuildTimeout: cfg.Splunk.RebuildTimeout,
		RestartTimeout: cfg.Splunk.RestartTimeout,
	})
	if err != nil {
		log.Error("failed to set up engine", "error", err)
		return 1
	}

	cat, err := catalog.NewWriter(ctx, catalog.Config{PostgresDSN: cfg.Catalog.DSN})
	if err != nil {
		if cfg.Catalog.Strict {
			log.Error("failed to connect to restore catalog", "error", err)
			return 1
		}
		log.Warn("restore catalog unavailable, continuing without it", "error", err)
		cat, _ = catalog.NewWriter(ctx, catalog.Config{})
	}
	defer cat.Close()

	auditLog, err := audit.NewEmitter(cfg.Audit.Dir)
	if err != nil {
		log.Error("failed to open audit log", "error", err)
		return 1
	}

	r := restore.New(cfg, archive, eng,
		restore.WithCatalog(cat),
		restore.WithAudit(auditLog),
		restore.WithMetrics(metrics.New(cfg.Metrics.Namespace)),
	)

	sum, err := r.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("restore interrupted", "run_id", sum.RunID, "error", err)
		} else {
			log.Error("restore failed", "run_id", sum.RunID, "error", err)
		}
		return 1
	}

	attrs := []any{
		"run_id", sum.RunID,
		"selected", sum.Selected.Len(),
		"duration", sum.FinishedAt.Sub(sum.StartedAt).String(),
	}
	if sum.Rebuild != nil {
		attrs = append(attrs, "rebuilt", len(sum.Rebuild.Succeeded()), "rebuild_failed", len(sum.Rebuild.Failed()))
	}
	for _, path := range sum.Reports {
		log.Info("report written", "path", path)
	}
	log.Info("restore complete", attrs...)
	return 0
}
