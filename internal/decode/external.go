package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"arq-dashboard/internal/telemetry"
)

// ExternalDecoder shells out to a Python helper for pickle streams the
// in-process reader cannot handle (custom classes, newer opcodes). The
// helper reads the raw bytes on stdin and prints a JSON object on stdout.
// Each call is bounded by a timeout so one poisoned record cannot stall a
// scan; spawning a process per record is expensive, so this tier only runs
// after both in-process tiers have failed.
type ExternalDecoder struct {
	python  string
	script  string
	timeout time.Duration
}

// NewExternalDecoder configures the subprocess tier. timeout <= 0 falls
// back to 5 seconds.
func NewExternalDecoder(python, script string, timeout time.Duration) *ExternalDecoder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ExternalDecoder{python: python, script: script, timeout: timeout}
}

// Decode runs one helper round trip: write data to stdin, read stdout to
// completion, wait for exit. Non-zero exit, empty output, unparsable
// output, and timeout are all plain failures.
func (e *ExternalDecoder) Decode(ctx context.Context, data []byte) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	telemetry.ExternalSpawns.Inc()

	cmd := exec.CommandContext(ctx, e.python, e.script)
	cmd.Stdin = bytes.NewReader(data)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Don't wait on inherited pipes after the deadline kills the helper.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("unpickle helper: %w", err)
	}
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("unpickle helper: empty output")
	}
	var fields map[string]any
	if err := json.Unmarshal(out, &fields); err != nil {
		return nil, fmt.Errorf("unpickle helper output: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("unpickle helper: null output")
	}
	return fields, nil
}
