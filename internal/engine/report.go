package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

var integritySummary = regexp.MustCompile(`succeeded=(\d),\sfailed=(\d)`)

// IntegrityReport is the summary printed by the integrity checker.
type IntegrityReport struct {
	Succeeded int
	Failed    int
}

// HasFailed reports whether the checker flagged the bucket as corrupted.
// Only a failed count of exactly one is treated as a failure.
func (r IntegrityReport) HasFailed() bool {
	return r.Failed == 1
}

// ParseIntegrityReport extracts the first summary found in the checker output.
func ParseIntegrityReport(text string) (IntegrityReport, error) {
	m := integritySummary.FindStringSubmatch(text)
	if m == nil {
		return IntegrityReport{}, fmt.Errorf("%w: no succeeded/failed summary in %q", ErrUnexpectedReport, truncate(text, 200))
	}

	succeeded, err := strconv.Atoi(m[1])
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("%w: %v", ErrUnexpectedReport, err)
	}
	failed, err := strconv.Atoi(m[2])
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("%w: %v", ErrUnexpectedReport, err)
	}

	return IntegrityReport{Succeeded: succeeded, Failed: failed}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
