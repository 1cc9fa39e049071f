package restore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/storage"
)

const (
	bucketA = "db_1615680000_1615593600_11"
	bucketB = "db_1615766400_1615680000_12"
	bucketC = "db_1615852800_1615766400_13"
	bucketD = "db_1615852800_1615800000_14"
)

func TestVerifierClassification(t *testing.T) {
	root := t.TempDir()
	writeBucket(t, root, bucketA, checkable...)
	writeBucket(t, root, bucketB, legacy...)
	writeBucket(t, root, bucketC, "journal.gz", "Hosts.data", "Sources.data")
	writeBucket(t, root, bucketD, "l2Hash_0_1.dat")

	eng := &fakeEngine{integrity: map[string]string{
		bucketA: "Integrity check failed for bucket: succeeded=0, failed=1",
		bucketD: "succeeded=1, failed=0",
	}}
	v := &Verifier{Engine: eng, Root: root}

	set := bucket.NewSet(ids(bucketA, bucketB, bucketC, bucketD)...)
	out, err := v.Verify(context.Background(), set)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !equalNames(out.Failed, bucketA) {
		t.Errorf("Failed = %s", fmtIDs(out.Failed))
	}
	if !equalNames(out.Passed, bucketC, bucketD) {
		t.Errorf("Passed = %s", fmtIDs(out.Passed))
	}
	if !equalNames(out.Unverifiable, bucketB) {
		t.Errorf("Unverifiable = %s", fmtIDs(out.Unverifiable))
	}
	if !equalNames(out.Remaining.IDs(), bucketB, bucketC, bucketD) {
		t.Errorf("Remaining = %v", out.Remaining.Names())
	}

	// The checker is never invoked for a bucket without integrity data
	for _, name := range eng.checked {
		if name == bucketB {
			t.Error("checker invoked for an unverifiable bucket")
		}
	}

	if len(out.Results) != set.Len() {
		t.Errorf("got %d results for %d buckets", len(out.Results), set.Len())
	}
}

func TestVerifierPartitionsInput(t *testing.T) {
	root := t.TempDir()
	all := []string{bucketA, bucketB, bucketC, bucketD}
	for i, name := range all {
		if i%2 == 0 {
			writeBucket(t, root, name, checkable...)
		} else {
			writeBucket(t, root, name, legacy...)
		}
	}
	eng := &fakeEngine{integrity: map[string]string{bucketC: "succeeded=0, failed=1"}}

	out, err := (&Verifier{Engine: eng, Root: root}).Verify(context.Background(), bucket.NewSet(ids(all...)...))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	seen := make(map[string]int)
	for _, list := range [][]bucket.ID{out.Failed, out.Passed, out.Unverifiable} {
		for _, id := range list {
			seen[id.Name]++
		}
	}
	for _, name := range all {
		if seen[name] != 1 {
			t.Errorf("bucket %s appears %d times across verdicts", name, seen[name])
		}
	}
	for _, id := range out.Failed {
		if out.Remaining.Contains(id.Name) {
			t.Errorf("failed bucket %s still remaining", id.Name)
		}
	}
	if out.Remaining.Len()+len(out.Failed) != len(all) {
		t.Errorf("remaining %d + failed %d != %d", out.Remaining.Len(), len(out.Failed), len(all))
	}
}

func TestVerifierUnexpectedReportIsFatal(t *testing.T) {
	root := t.TempDir()
	writeBucket(t, root, bucketA, checkable...)
	eng := &fakeEngine{integrity: map[string]string{bucketA: "ERROR: bucket is locked"}}

	_, err := (&Verifier{Engine: eng, Root: root}).Verify(context.Background(), bucket.NewSet(ids(bucketA)...))
	if !errors.Is(err, engine.ErrUnexpectedReport) {
		t.Fatalf("Verify error = %v, want ErrUnexpectedReport", err)
	}
}

func TestVerifierNonZeroExitUsesParsedReport(t *testing.T) {
	root := t.TempDir()
	writeBucket(t, root, bucketA, checkable...)
	writeBucket(t, root, bucketB, checkable...)
	eng := &fakeEngine{
		integrity: map[string]string{
			bucketA: "succeeded=0, failed=1",
			bucketB: "segmentation fault",
		},
		integrityErr: map[string]error{
			bucketA: &engine.ToolError{Op: "check-integrity", ExitCode: 1},
			bucketB: &engine.ToolError{Op: "check-integrity", ExitCode: 139},
		},
	}
	v := &Verifier{Engine: eng, Root: root}

	out, err := v.Verify(context.Background(), bucket.NewSet(ids(bucketA)...))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !equalNames(out.Failed, bucketA) {
		t.Errorf("Failed = %s", fmtIDs(out.Failed))
	}

	_, err = v.Verify(context.Background(), bucket.NewSet(ids(bucketB)...))
	if !errors.Is(err, engine.ErrUnexpectedReport) || !errors.Is(err, engine.ErrToolFailed) {
		t.Errorf("Verify error = %v, want both ErrUnexpectedReport and ErrToolFailed", err)
	}
}

func TestVerifierMissingRawdataIsFatal(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, bucketA), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := (&Verifier{Engine: &fakeEngine{}, Root: root}).Verify(context.Background(), bucket.NewSet(ids(bucketA)...))
	if err == nil {
		t.Fatal("Verify should fail without a rawdata directory")
	}
	if !strings.Contains(err.Error(), bucketA) {
		t.Errorf("error should name the bucket: %v", err)
	}
}

func TestVerifierPurgeFailed(t *testing.T) {
	root := t.TempDir()
	writeBucket(t, root, bucketA, checkable...)
	writeBucket(t, root, bucketB, checkable...)
	eng := &fakeEngine{integrity: map[string]string{bucketA: "succeeded=0, failed=1"}}

	v := &Verifier{Engine: eng, Root: root, PurgeFailed: true}
	if _, err := v.Verify(context.Background(), bucket.NewSet(ids(bucketA, bucketB)...)); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, bucketA)); !os.IsNotExist(err) {
		t.Error("failed bucket should be purged")
	}
	if _, err := os.Stat(filepath.Join(root, bucketB)); err != nil {
		t.Errorf("passed bucket should be kept: %v", err)
	}
}

func TestRebuilderContinuesAfterFailure(t *testing.T) {
	eng := &fakeEngine{rebuildErr: map[string]error{
		bucketB: &engine.ToolError{Op: "rebuild", ExitCode: 1, Output: "journal is corrupt"},
	}}
	var seen []RebuildResult
	r := &Rebuilder{
		Engine:   eng,
		Root:     "/thawed",
		Index:    "archive_wineventlog",
		OnResult: func(res RebuildResult) { seen = append(seen, res) },
	}

	set := bucket.NewSet(ids(bucketA, bucketB, bucketC)...)
	out, err := r.Rebuild(context.Background(), set)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	if !equalNames(out.Succeeded(), bucketA, bucketC) {
		t.Errorf("Succeeded = %s", fmtIDs(out.Succeeded()))
	}
	if !equalNames(out.Failed(), bucketB) {
		t.Errorf("Failed = %s", fmtIDs(out.Failed()))
	}
	if len(eng.rebuilt) != 3 {
		t.Errorf("rebuild called %d times, want 3", len(eng.rebuilt))
	}
	if len(seen) != 3 {
		t.Errorf("OnResult called %d times, want 3", len(seen))
	}

	var toolErr *engine.ToolError
	if !errors.As(out.Results[1].Err, &toolErr) || toolErr.Output != "journal is corrupt" {
		t.Errorf("failure reason not kept: %v", out.Results[1].Err)
	}
}

func TestRebuilderLogsCarryBucket(t *testing.T) {
	eng := &fakeEngine{rebuildErr: map[string]error{bucketB: errors.New("journal is corrupt")}}
	var buf bytes.Buffer
	r := &Rebuilder{
		Engine: eng,
		Root:   "/thawed",
		Index:  "archive_wineventlog",
		Log:    slog.New(slog.NewTextHandler(&buf, nil)),
	}

	if _, err := r.Rebuild(context.Background(), bucket.NewSet(ids(bucketA, bucketB)...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "bucket="+bucketB) || !strings.Contains(out, "journal is corrupt") {
		t.Errorf("rebuild failure log lacks bucket context:\n%s", out)
	}
}

func TestRebuilderIsRepeatable(t *testing.T) {
	eng := &fakeEngine{rebuildErr: map[string]error{bucketA: errors.New("boom")}}
	r := &Rebuilder{Engine: eng, Root: "/thawed", Index: "main"}
	set := bucket.NewSet(ids(bucketA, bucketB)...)

	first, err := r.Rebuild(context.Background(), set)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	second, err := r.Rebuild(context.Background(), set)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	if fmtIDs(first.Succeeded()) != fmtIDs(second.Succeeded()) || fmtIDs(first.Failed()) != fmtIDs(second.Failed()) {
		t.Errorf("outcomes differ: %v / %v", first, second)
	}
}

func TestRebuilderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &fakeEngine{}
	eng.onRebuild = func(name string) {
		if name == bucketA {
			cancel()
		}
	}
	eng.rebuildErr = map[string]error{bucketA: context.Canceled}

	r := &Rebuilder{Engine: eng, Root: "/thawed", Index: "main"}
	_, err := r.Rebuild(ctx, bucket.NewSet(ids(bucketA, bucketB)...))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Rebuild error = %v, want context.Canceled", err)
	}
	if len(eng.rebuilt) != 1 {
		t.Errorf("rebuild called %d times after cancel, want 1", len(eng.rebuilt))
	}
}

func TestRelocate(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeBucket(t, src, bucketA, checkable...)
	writeBucket(t, src, bucketB, checkable...)
	writeBucket(t, src, bucketC, checkable...)

	archive, err := storage.NewLocalArchive(src)
	if err != nil {
		t.Fatalf("NewLocalArchive failed: %v", err)
	}

	// bucketB already thawed: relocation stops there
	if err := os.MkdirAll(filepath.Join(dst, bucketB), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	n, err := Relocate(context.Background(), archive, dst, bucket.NewSet(ids(bucketA, bucketB, bucketC)...), nil)
	if !errors.Is(err, storage.ErrDestinationExists) {
		t.Fatalf("Relocate error = %v, want ErrDestinationExists", err)
	}
	if n != 1 {
		t.Errorf("relocated %d buckets, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dst, bucketA, "rawdata", "journal.zst")); err != nil {
		t.Errorf("bucket copied before the failure should stay: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, bucketC)); !os.IsNotExist(err) {
		t.Error("no bucket should be copied after the failure")
	}
}

func TestRestart(t *testing.T) {
	var out bytes.Buffer
	eng := &fakeEngine{restartOut: "splunkd is running\n"}
	if err := Restart(context.Background(), eng, &out, nil); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if out.String() != "splunkd is running\n" {
		t.Errorf("restart output = %q", out.String())
	}

	eng = &fakeEngine{restartOut: "permission denied", restartErr: &engine.ToolError{Op: "restart", ExitCode: 1}}
	out.Reset()
	err := Restart(context.Background(), eng, &out, nil)
	if !errors.Is(err, engine.ErrToolFailed) {
		t.Errorf("Restart error = %v, want ErrToolFailed", err)
	}
	if out.String() != "permission denied" {
		t.Errorf("output should be surfaced on failure, got %q", out.String())
	}
}
