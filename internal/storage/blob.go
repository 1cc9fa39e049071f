package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobArchive reads frozen buckets from an object store.
// Each frozen bucket is the set of keys under {prefix}{name}/.
type BlobArchive struct {
	bucket  *blob.Bucket
	baseURI string
	prefix  string
}

// NewGCSArchive opens a frozen archive in Google Cloud Storage.
// Uses Application Default Credentials (ADC) for authentication.
func NewGCSArchive(bucketName, prefix string) (*BlobArchive, error) {
	return OpenBlobArchive(context.Background(), fmt.Sprintf("gs://%s", bucketName), prefix)
}

// NewS3Archive opens a frozen archive in S3-compatible storage.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Archive(bucketName, prefix, endpoint, region string) (*BlobArchive, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	return OpenBlobArchive(context.Background(), bucketURL, prefix)
}

// OpenBlobArchive opens any gocloud.dev bucket URL as an archive.
func OpenBlobArchive(ctx context.Context, bucketURL, prefix string) (*BlobArchive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", bucketURL, err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	base := bucketURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}

	return &BlobArchive{
		bucket:  bucket,
		baseURI: strings.TrimSuffix(base, "/"),
		prefix:  prefix,
	}, nil
}

// ListBuckets returns the names of the top-level "directories" and objects under the prefix.
func (a *BlobArchive) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string

	iter := a.bucket.List(&blob.ListOptions{
		Prefix:    a.prefix,
		Delimiter: "/",
	})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list archive %s/%s: %w", a.baseURI, a.prefix, err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, a.prefix), "/")
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// CopyBucket downloads every object of the named bucket into destDir/name.
// A partially copied destination is removed before the error is returned.
func (a *BlobArchive) CopyBucket(ctx context.Context, name, destDir string) error {
	dst := filepath.Join(destDir, name)
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %v", ErrRelocation, dst, err)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", ErrRelocation, dst, err)
	}

	copied, err := a.download(ctx, a.prefix+name+"/", dst)
	if err == nil && copied == 0 {
		err = fmt.Errorf("%w: %s", ErrSourceMissing, a.URI(name))
	}
	if err != nil {
		os.RemoveAll(dst)
		if errors.Is(err, ErrRelocation) {
			return err
		}
		return fmt.Errorf("%w: copy %s to %s: %v", ErrRelocation, a.URI(name), dst, err)
	}
	return nil
}

// download copies all keys under keyPrefix into root and returns the number of objects copied.
func (a *BlobArchive) download(ctx context.Context, keyPrefix, root string) (int, error) {
	count := 0
	iter := a.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("list %s: %w", keyPrefix, err)
		}
		if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
			continue
		}

		rel := strings.TrimPrefix(obj.Key, keyPrefix)
		target, err := securejoin.SecureJoin(root, rel)
		if err != nil {
			return count, fmt.Errorf("resolve %s: %w", obj.Key, err)
		}

		if err := a.downloadObject(ctx, obj.Key, target); err != nil {
			return count, err
		}
		count++
	}
}

func (a *BlobArchive) downloadObject(ctx context.Context, key, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	r, err := a.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}

// URI returns the canonical URI for the named bucket.
func (a *BlobArchive) URI(name string) string {
	return fmt.Sprintf("%s/%s%s", a.baseURI, a.prefix, name)
}

// Close releases the bucket connection.
func (a *BlobArchive) Close() error {
	if a.bucket != nil {
		return a.bucket.Close()
	}
	return nil
}
