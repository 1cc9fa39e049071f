package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/withObsrvr/obsrvr-bucket-restorer/internal/engine"
)

// Restart restarts the service so it picks up the rebuilt buckets. The tool
// output is copied verbatim to out. Any failure is returned to the caller.
func Restart(ctx context.Context, eng engine.Engine, out io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	log.Info("restarting service")
	output, err := eng.Restart(ctx)
	if out != nil && output != "" {
		io.WriteString(out, output)
	}
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	log.Info("service restarted")
	return nil
}
