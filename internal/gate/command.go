package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	osexec "os/exec"
	"strings"

	"github.com/foremanhq/foreman/internal/packet"
)

// CommandStage runs a gate stage as an external process: the subtask
// under review goes to stdin as JSON, the verdict comes back on stdout.
type CommandStage struct {
	Argv []string
	Dir  string
}

// NewCommandStage parses a shell-style command string into a stage.
func NewCommandStage(cmdline string) (*CommandStage, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty stage command")
	}
	return &CommandStage{Argv: argv}, nil
}

// Review executes the stage process for one subtask.
func (c *CommandStage) Review(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
	input, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal subtask: %w", err)
	}

	cmd := osexec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("stage %s: %w (%s)", c.Argv[0], err, strings.TrimSpace(stderr.String()))
	}

	var verdict packet.Verdict
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		return nil, fmt.Errorf("stage %s returned malformed verdict: %w", c.Argv[0], err)
	}
	return &verdict, nil
}
