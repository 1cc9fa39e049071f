package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRelocation is the root of all bucket relocation failures.
	ErrRelocation = errors.New("bucket relocation failed")

	// ErrDestinationExists is returned when the staging copy of a bucket already exists.
	ErrDestinationExists = fmt.Errorf("%w: destination already exists", ErrRelocation)

	// ErrSourceMissing is returned when the archive has no bucket with the requested name.
	ErrSourceMissing = fmt.Errorf("%w: source bucket not found", ErrRelocation)
)

// Archive abstracts the cold storage holding frozen buckets.
type Archive interface {
	// ListBuckets returns the names of the top-level entries of the archive,
	// without recursing into them.
	ListBuckets(ctx context.Context) ([]string, error)

	// CopyBucket copies the whole tree of the named bucket into destDir/name.
	// It fails with ErrDestinationExists if destDir/name is already present.
	CopyBucket(ctx context.Context, name, destDir string) error

	// URI returns the canonical URI for the named bucket.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(name string) string

	// Close releases any resources.
	Close() error
}

// ArchiveConfig configures the archive backend.
type ArchiveConfig struct {
	Backend string // "local" | "gcs" | "s3" | "url"

	// Local filesystem (frozendb directory)
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Any gocloud.dev bucket URL, e.g. file:///mnt/frozen
	URL string

	// Common
	Prefix string // path prefix of the frozen buckets within the object store
}

// NewArchive creates an archive backend based on configuration.
func NewArchive(cfg ArchiveConfig) (Archive, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalArchive(cfg.LocalDir)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return NewGCSArchive(cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return NewS3Archive(cfg.S3Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	case "url":
		if cfg.URL == "" {
			return nil, fmt.Errorf("URL required for url backend")
		}
		return OpenBlobArchive(context.Background(), cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}
