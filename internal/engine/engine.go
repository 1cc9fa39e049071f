// Package engine drives the archival engine's command line tool.
//
// Only the textual contract of the tool is consumed here: the integrity
// checker's "succeeded=N, failed=N" summary, the exit status of a rebuild,
// and the verbatim output of a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolFailed is returned when the tool exits with a non-zero status.
	ErrToolFailed = errors.New("external tool failed")

	// ErrUnexpectedReport is returned when the integrity checker's output
	// does not carry the expected summary.
	ErrUnexpectedReport = errors.New("unexpected integrity report")
)

// Engine is the set of operations the restore pipeline delegates to the
// archival engine.
type Engine interface {
	// CheckIntegrity runs the integrity checker against bucketPath and
	// returns its combined output.
	CheckIntegrity(ctx context.Context, bucketPath string) (string, error)

	// Rebuild regenerates the index files of bucketPath for index.
	Rebuild(ctx context.Context, bucketPath, index string) (string, error)

	// Restart restarts the service and returns its output.
	Restart(ctx context.Context) (string, error)
}

// ToolError describes a non-zero exit of the tool.
type ToolError struct {
	Op       string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Op, e.ExitCode, out)
}

func (e *ToolError) Unwrap() error {
	return ErrToolFailed
}
