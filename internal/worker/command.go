package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"
)

// Command runs a worker as an external process: the subtask spec goes
// to stdin as JSON, the result contract comes back on stdout as JSON.
// This is the only coupling between the coordinator and a worker
// implementation.
type Command struct {
	// Argv is the worker command line, e.g. ["my-agent", "--role", "engineer"].
	Argv []string
	// Dir is the working directory for the worker process.
	Dir string
	// Env overrides environment variables (nil inherits the parent's).
	Env []string
}

// NewCommand parses a shell-style command string into a Command.
func NewCommand(cmdline string) (*Command, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty worker command")
	}
	return &Command{Argv: argv}, nil
}

// Accept executes the worker process for one subtask spec.
func (c *Command) Accept(ctx context.Context, spec Spec) (*Result, error) {
	input, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	cmd := osexec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if runErr != nil {
		return &Result{
			SubtaskID: spec.SubtaskID,
			Success:   false,
			Error:     strings.TrimSpace(stderr.String()),
			Duration:  duration,
		}, nil
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return &Result{
			SubtaskID: spec.SubtaskID,
			Success:   false,
			Error:     fmt.Sprintf("worker returned malformed result: %v", err),
			Duration:  duration,
		}, nil
	}
	if res.SubtaskID == "" {
		res.SubtaskID = spec.SubtaskID
	}
	res.Duration = duration
	return &res, nil
}
