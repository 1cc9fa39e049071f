package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
)

const (
	// Buckets written with data integrity control carry l2Hash files in rawdata/.
	integrityFilePrefix = "l2Hash"

	// A rawdata directory with at least this many entries is checked even
	// without an l2Hash file.
	minRawdataEntries = 3
)

// Verifier runs the integrity checker over relocated buckets.
type Verifier struct {
	Engine engine.Engine
	Root   string // directory holding the relocated buckets

	// PurgeFailed removes buckets that fail the check from Root.
	PurgeFailed bool

	Log *slog.Logger

	// OnResult, if set, is called once per bucket as soon as its verdict is known.
	OnResult func(IntegrityResult)
}

// Verify classifies every bucket of set. Buckets without integrity data are
// Unverifiable and kept for rebuilding. A checker output without a
// succeeded/failed summary aborts the run.
func (v *Verifier) Verify(ctx context.Context, set bucket.Set) (IntegrityOutcome, error) {
	log := v.Log
	if log == nil {
		log = slog.Default()
	}

	var out IntegrityOutcome
	for _, id := range set.IDs() {
		if err := ctx.Err(); err != nil {
			return IntegrityOutcome{}, err
		}

		res, err := v.verifyBucket(ctx, id)
		if err != nil {
			return IntegrityOutcome{}, err
		}

		blog := logging.BucketLogger(log, id.Name)
		switch res.Verdict {
		case IntegrityFailed:
			out.Failed = append(out.Failed, id)
			blog.Warn("integrity check failed, bucket will not be rebuilt", "report", res.Reason)
		case IntegrityPassed:
			out.Passed = append(out.Passed, id)
			blog.Debug("integrity check passed")
		case IntegrityUnverifiable:
			out.Unverifiable = append(out.Unverifiable, id)
			blog.Debug("bucket has no data integrity control")
		}
		out.Results = append(out.Results, res)

		if v.OnResult != nil {
			v.OnResult(res)
		}
	}

	out.Remaining = set.Subtract(out.Failed...)

	if v.PurgeFailed {
		for _, id := range out.Failed {
			path := filepath.Join(v.Root, id.Name)
			if err := os.RemoveAll(path); err != nil {
				return IntegrityOutcome{}, fmt.Errorf("purge failed bucket %s: %w", path, err)
			}
			logging.BucketLogger(log, id.Name).Info("purged bucket that failed integrity check")
		}
	}

	return out, nil
}

func (v *Verifier) verifyBucket(ctx context.Context, id bucket.ID) (IntegrityResult, error) {
	path := filepath.Join(v.Root, id.Name)

	checkable, err := hasIntegrityData(filepath.Join(path, "rawdata"))
	if err != nil {
		return IntegrityResult{}, fmt.Errorf("inspect %s: %w", id.Name, err)
	}
	if !checkable {
		return IntegrityResult{Bucket: id, Verdict: IntegrityUnverifiable}, nil
	}

	output, runErr := v.Engine.CheckIntegrity(ctx, path)
	if runErr != nil && ctx.Err() != nil {
		return IntegrityResult{}, ctx.Err()
	}

	report, err := engine.ParseIntegrityReport(output)
	if err != nil {
		if runErr != nil {
			return IntegrityResult{}, fmt.Errorf("check integrity of %s: %w", id.Name, errors.Join(err, runErr))
		}
		return IntegrityResult{}, fmt.Errorf("check integrity of %s: %w", id.Name, err)
	}

	res := IntegrityResult{
		Bucket:  id,
		Verdict: IntegrityPassed,
		Reason:  fmt.Sprintf("succeeded=%d, failed=%d", report.Succeeded, report.Failed),
	}
	if report.HasFailed() {
		res.Verdict = IntegrityFailed
	}
	return res, nil
}

// hasIntegrityData reports whether a bucket's rawdata directory can be checked:
// it holds an l2Hash file or at least minRawdataEntries entries.
func hasIntegrityData(rawdata string) (bool, error) {
	entries, err := os.ReadDir(rawdata)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), integrityFilePrefix) {
			return true, nil
		}
	}
	return len(entries) >= minRawdataEntries, nil
}
