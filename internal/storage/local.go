package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalArchive reads frozen buckets from a directory on the local filesystem.
type LocalArchive struct {
	baseDir string
}

// NewLocalArchive creates a local filesystem archive rooted at baseDir.
func NewLocalArchive(baseDir string) (*LocalArchive, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive path %s: %w", baseDir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("invalid archive path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive path %s is not a directory", abs)
	}

	return &LocalArchive{baseDir: abs}, nil
}

// ListBuckets returns every entry name of the archive directory.
// Regular files are included so that stray entries surface during selection.
func (a *LocalArchive) ListBuckets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list archive %s: %w", a.baseDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// CopyBucket recursively copies baseDir/name to destDir/name.
// A partially copied destination is removed before the error is returned.
func (a *LocalArchive) CopyBucket(ctx context.Context, name, destDir string) error {
	src := filepath.Join(a.baseDir, name)
	dst := filepath.Join(destDir, name)

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		return fmt.Errorf("%w: stat %s: %v", ErrRelocation, src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRelocation, src)
	}

	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %v", ErrRelocation, dst, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", ErrRelocation, destDir, err)
	}

	if err := copyTree(ctx, src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("%w: copy %s to %s: %v", ErrRelocation, src, dst, err)
	}
	return nil
}

// URI returns the canonical URI for the named bucket.
func (a *LocalArchive) URI(name string) string {
	return "file://" + filepath.Join(a.baseDir, name)
}

// Close is a no-op for local storage.
func (a *LocalArchive) Close() error {
	return nil
}

// copyTree mirrors src into dst, keeping permission bits and symlinks.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return fmt.Errorf("unsupported file type %s at %s", d.Type(), path)
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
