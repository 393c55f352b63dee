// Package papertrail adapts ports.PapertrailCLI to a subprocess invocation
// of the papertrail realtime-log CLI, used by RealtimeIngestor (C6) when no
// archive exists yet for a given minute.
//
// Grounded on spec.md §4.6/§6: "papertrail --min-time <rfc3339> --max-time
// <rfc3339> -j", JSON-lines on stdout, any stderr output treated as failure.
package papertrail

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/paperwatch/traceline/internal/domain"
)

const timeLayout = time.RFC3339

// CLI shells out to the papertrail binary.
type CLI struct {
	binary string
}

func New(binary string) *CLI {
	if binary == "" {
		binary = "papertrail"
	}
	return &CLI{binary: binary}
}

// Run invokes the CLI for [minTime, maxTime] and returns its stdout as a
// stream of JSON lines. Non-empty stderr is treated as a transient failure
// per spec.md §6, since the CLI does not distinguish auth errors from rate
// limiting in its exit code.
func (c *CLI) Run(ctx context.Context, minTime, maxTime time.Time) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.binary,
		"--min-time", minTime.UTC().Format(timeLayout),
		"--max-time", maxTime.UTC().Format(timeLayout),
		"-j",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, domain.E("papertrail.Run", domain.KindTransient, err)
	}
	if stderr.Len() > 0 {
		return nil, domain.E("papertrail.Run", domain.KindTransient,
			errString(stderr.String()))
	}
	return io.NopCloser(bytes.NewReader(stdout.Bytes())), nil
}

type errString string

func (e errString) Error() string { return string(e) }
