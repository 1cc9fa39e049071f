package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/logging"
)

// CLIConfig configures the command line engine.
type CLIConfig struct {
	// Home is the service installation directory. The tool is expected at
	// Home/bin/splunk unless Binary is set.
	Home   string
	Binary string

	// Zero disables the timeout for that call.
	CheckTimeout   time.Duration
	RebuildTimeout time.Duration
	RestartTimeout time.Duration
}

// CLI runs the archival engine's command line tool as a subprocess.
// Every path handed to the tool is absolute and the working directory
// of the current process is never changed.
type CLI struct {
	binary string
	cfg    CLIConfig
}

// NewCLI creates a CLI engine.
func NewCLI(cfg CLIConfig) (*CLI, error) {
	binary := cfg.Binary
	if binary == "" {
		if cfg.Home == "" {
			return nil, fmt.Errorf("engine: service home is required")
		}
		binary = filepath.Join(cfg.Home, "bin", "splunk")
	}

	abs, err := filepath.Abs(binary)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve %s: %w", binary, err)
	}

	return &CLI{binary: abs, cfg: cfg}, nil
}

// Binary returns the absolute path of the tool.
func (c *CLI) Binary() string {
	return c.binary
}

// CheckIntegrity runs "check-integrity -bucketPath <path>".
// The combined output is returned even when the tool exits non-zero so the
// caller can still read the summary.
func (c *CLI) CheckIntegrity(ctx context.Context, bucketPath string) (string, error) {
	var out bytes.Buffer
	err := c.run(ctx, "check-integrity", c.cfg.CheckTimeout, &out, &out,
		"check-integrity", "-bucketPath", bucketPath)
	if err != nil {
		return out.String(), withOutput(err, out.String())
	}
	return out.String(), nil
}

// Rebuild runs "rebuild <path> <index>". A non-zero exit is reported as a
// ToolError carrying the tool's stderr.
func (c *CLI) Rebuild(ctx context.Context, bucketPath, index string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := c.run(ctx, "rebuild", c.cfg.RebuildTimeout, &stdout, &stderr,
		"rebuild", bucketPath, index)
	if err != nil {
		reason := stderr.String()
		if strings.TrimSpace(reason) == "" {
			reason = stdout.String()
		}
		return stdout.String(), withOutput(err, reason)
	}
	return stdout.String(), nil
}

// Restart runs "restart" and returns its output verbatim.
func (c *CLI) Restart(ctx context.Context) (string, error) {
	var out bytes.Buffer
	err := c.run(ctx, "restart", c.cfg.RestartTimeout, &out, &out, "restart")
	if err != nil {
		return out.String(), withOutput(err, out.String())
	}
	return out.String(), nil
}

func (c *CLI) run(ctx context.Context, op string, timeout time.Duration, stdout, stderr *bytes.Buffer, args ...string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	slog.Debug("running splunk command", "op", op, "args", args, "run_id", logging.RunID(ctx))

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && timeout > 0 {
			return fmt.Errorf("%s %s: timed out after %s: %w", c.binary, op, timeout, ctxErr)
		}
		return fmt.Errorf("%s %s: %w", c.binary, op, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Op: op, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("failed to execute %s %s: %w", c.binary, op, err)
}

func withOutput(err error, output string) error {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		toolErr.Output = output
	}
	return err
}

var _ Engine = (*CLI)(nil)
