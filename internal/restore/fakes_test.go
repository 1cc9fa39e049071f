package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/catalog"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
)

// fakeEngine answers by bucket directory name.
type fakeEngine struct {
	mu sync.Mutex

	integrity    map[string]string // checker output per bucket
	integrityErr map[string]error
	rebuildErr   map[string]error
	onRebuild    func(name string)

	restartOut string
	restartErr error

	checked  []string
	rebuilt  []string
	restarts int
}

func (f *fakeEngine) CheckIntegrity(_ context.Context, bucketPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(bucketPath)
	f.checked = append(f.checked, name)
	out, ok := f.integrity[name]
	if !ok {
		out = "Integrity check succeeded=1, failed=0"
	}
	return out, f.integrityErr[name]
}

func (f *fakeEngine) Rebuild(_ context.Context, bucketPath, _ string) (string, error) {
	f.mu.Lock()
	name := filepath.Base(bucketPath)
	f.rebuilt = append(f.rebuilt, name)
	hook := f.onRebuild
	f.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	if err := f.rebuildErr[name]; err != nil {
		return "", err
	}
	return "rebuilt " + name, nil
}

func (f *fakeEngine) Restart(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartOut, f.restartErr
}

var _ engine.Engine = (*fakeEngine)(nil)

// fakeCatalog records calls and can be told to fail.
type fakeCatalog struct {
	mu      sync.Mutex
	fail    error
	runs    []catalog.RunRecord
	buckets []catalog.BucketRecord
	finish  []catalog.RunFinish
	history map[string]time.Time
}

func (c *fakeCatalog) StartRun(_ context.Context, run catalog.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.runs = append(c.runs, run)
	return nil
}

func (c *fakeCatalog) RecordBucket(_ context.Context, rec catalog.BucketRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.buckets = append(c.buckets, rec)
	return nil
}

func (c *fakeCatalog) FinishRun(_ context.Context, fin catalog.RunFinish) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.finish = append(c.finish, fin)
	return nil
}

func (c *fakeCatalog) LastRestore(_ context.Context, _, name string) (time.Time, error) {
	return c.history[name], nil
}

func (c *fakeCatalog) Close() error { return nil }

func (c *fakeCatalog) verdicts(stage string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for _, b := range c.buckets {
		if b.Stage == stage {
			out[b.Bucket] = b.Verdict
		}
	}
	return out
}

var errCatalogDown = errors.New("catalog down")

// writeBucket creates root/name/rawdata with the given entries.
func writeBucket(t *testing.T, root, name string, rawdata ...string) {
	t.Helper()
	dir := filepath.Join(root, name, "rawdata")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	for _, entry := range rawdata {
		if err := os.WriteFile(filepath.Join(dir, entry), []byte(entry), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", entry, err)
		}
	}
}

// checkable and legacy are rawdata layouts with and without integrity data.
var (
	checkable = []string{"journal.zst", "l2Hash_0_1615593600.dat", "slicesv2.dat"}
	legacy    = []string{"journal.gz"}
)

func ids(names ...string) []bucket.ID {
	out := make([]bucket.ID, len(names))
	for i, n := range names {
		out[i] = bucket.MustParseID(n)
	}
	return out
}

func equalNames(got []bucket.ID, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Name != want[i] {
			return false
		}
	}
	return true
}

func fmtIDs(list []bucket.ID) string {
	return fmt.Sprint(names(list))
}
