package restore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/storage"
)

// Relocate copies every bucket of set from the archive into destDir.
// The first failure aborts the remaining copies; buckets already copied stay
// in place. It returns the number of buckets copied.
func Relocate(ctx context.Context, archive storage.Archive, destDir string, set bucket.Set, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}

	copied := 0
	for _, id := range set.IDs() {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		if err := archive.CopyBucket(ctx, id.Name, destDir); err != nil {
			return copied, fmt.Errorf("relocate %s: %w", id.Name, err)
		}
		copied++

		logging.BucketLogger(log, id.Name).Debug("bucket relocated",
			"source", archive.URI(id.Name),
			"progress", fmt.Sprintf("%d/%d", copied, set.Len()),
		)
	}
	return copied, nil
}
