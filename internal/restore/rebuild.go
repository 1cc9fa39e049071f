package restore

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
)

// Rebuilder regenerates the index files of relocated buckets.
type Rebuilder struct {
	Engine engine.Engine
	Root   string
	Index  string

	Log      *slog.Logger
	OnResult func(RebuildResult)
}

// Rebuild runs one rebuild per bucket, in order. A failing bucket is recorded
// and the batch continues. Only cancellation of ctx stops the batch early; the
// results gathered so far are returned with the context error.
func (r *Rebuilder) Rebuild(ctx context.Context, set bucket.Set) (RebuildOutcome, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	var out RebuildOutcome
	for _, id := range set.IDs() {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		blog := logging.BucketLogger(log, id.Name)
		res := RebuildResult{Bucket: id, Verdict: RebuildSucceeded}
		if _, err := r.Engine.Rebuild(ctx, filepath.Join(r.Root, id.Name), r.Index); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			res.Verdict = RebuildFailed
			res.Err = err
			blog.Warn("bucket rebuild failed", "error", err)
		} else {
			blog.Debug("bucket rebuilt")
		}

		out.Results = append(out.Results, res)
		if r.OnResult != nil {
			r.OnResult(res)
		}
	}
	return out, nil
}
