package restore

import (
	"time"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/bucket"
)

// Version information (set via ldflags)
var (
	Version = "1.0.0"
	GitSHA  = "unknown"
)

// IntegrityVerdict is the outcome of verifying one bucket.
type IntegrityVerdict string

const (
	IntegrityPassed       IntegrityVerdict = "passed"
	IntegrityFailed       IntegrityVerdict = "failed"
	IntegrityUnverifiable IntegrityVerdict = "unverifiable"
)

// IntegrityResult is the verdict of one bucket with the checker's summary.
type IntegrityResult struct {
	Bucket  bucket.ID
	Verdict IntegrityVerdict
	Reason  string
}

// IntegrityOutcome partitions a verified set.
// Failed, Passed and Unverifiable are disjoint and together hold every
// bucket that was verified. Remaining is the input set without Failed.
type IntegrityOutcome struct {
	Remaining    bucket.Set
	Failed       []bucket.ID
	Passed       []bucket.ID
	Unverifiable []bucket.ID
	Results      []IntegrityResult
}

// RebuildVerdict is the outcome of rebuilding one bucket.
type RebuildVerdict string

const (
	RebuildSucceeded RebuildVerdict = "succeeded"
	RebuildFailed    RebuildVerdict = "failed"
)

// RebuildResult is the outcome of one rebuild. Err holds the reason of a failure.
type RebuildResult struct {
	Bucket  bucket.ID
	Verdict RebuildVerdict
	Err     error
}

// RebuildOutcome is the ordered sequence of per-bucket results.
type RebuildOutcome struct {
	Results []RebuildResult
}

// Succeeded returns the buckets rebuilt successfully, in input order.
func (o RebuildOutcome) Succeeded() []bucket.ID {
	return o.filter(RebuildSucceeded)
}

// Failed returns the buckets that could not be rebuilt, in input order.
func (o RebuildOutcome) Failed() []bucket.ID {
	return o.filter(RebuildFailed)
}

func (o RebuildOutcome) filter(v RebuildVerdict) []bucket.ID {
	var out []bucket.ID
	for _, r := range o.Results {
		if r.Verdict == v {
			out = append(out, r.Bucket)
		}
	}
	return out
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Window    bucket.Window
	Selected  bucket.Set
	Relocated int
	Integrity *IntegrityOutcome // nil when integrity checking is disabled
	Rebuild   *RebuildOutcome
	Restarted bool
	DryRun    bool
	Reports   []string

	StartedAt  time.Time
	FinishedAt time.Time

	// set once the catalog accepted the run row
	catalogStarted bool
}

func names(ids []bucket.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Name
	}
	return out
}
