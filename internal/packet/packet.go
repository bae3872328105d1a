// Package packet defines the task packet data model: the durable record
// of one unit of work, its subtasks, and the lifecycle state machine
// shared by the planner, dispatcher, monitor, and gate engine.
package packet

import (
	"time"

	"github.com/google/uuid"
)

// TaskPacket is the durable record for one unit of work. The coordinator
// owns it exclusively; workers contribute only appended activity entries
// and review findings, never rewritten history.
type TaskPacket struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Contract  string          `json:"contract"`
	Plan      string          `json:"plan"`
	State     State           `json:"state"`
	Subtasks  []Subtask       `json:"subtasks,omitempty"`
	Activity  []ActivityEntry `json:"activity,omitempty"`
	Review    ReviewRecord    `json:"review"`
	Accepted  bool            `json:"accepted"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New creates a packet in DRAFT with a fresh identity.
func New(title string) *TaskPacket {
	now := time.Now().UTC()
	return &TaskPacket{
		ID:        uuid.New().String(),
		Title:     title,
		State:     StateDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Subtask is an independently dispatchable unit within a packet.
// DependsOn must form a DAG across the packet; Owns lists the glob
// patterns of resources the subtask exclusively touches.
type Subtask struct {
	ID        string     `json:"id"`
	PacketID  string     `json:"packet_id"`
	Spec      string     `json:"spec"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Owns      []string   `json:"owns,omitempty"`
	WorkerID  string     `json:"worker_id,omitempty"`
	State     State      `json:"state"`
	Exec      ExecStatus `json:"exec"`
	Findings  []Finding  `json:"findings,omitempty"`
}

// ExecStatus is the dispatcher-visible execution status of a subtask.
// Success and Failed are the terminal statuses the layer barrier waits
// for; Blocked marks work stranded behind a failed dependency.
type ExecStatus string

const (
	ExecPending ExecStatus = "pending"
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecFailed  ExecStatus = "failed"
	ExecBlocked ExecStatus = "blocked"
)

// Terminal reports whether the status ends the subtask's run.
func (s ExecStatus) Terminal() bool {
	return s == ExecSuccess || s == ExecFailed || s == ExecBlocked
}

// ActivityEntry is one append-only line in a packet's activity log.
type ActivityEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Subtask   string    `json:"subtask,omitempty"`
	Note      string    `json:"note"`
}

// ReviewRecord accumulates gate rounds for a packet. Findings are
// preserved across rejected rounds, never discarded.
type ReviewRecord struct {
	Rounds   []Verdict `json:"rounds,omitempty"`
	Resolved int       `json:"resolved"`
}

// Stage identifies which gate produced a verdict.
type Stage string

const (
	StageTester   Stage = "tester"
	StageReviewer Stage = "reviewer"
)

// Outcome is a gate stage's decision.
type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeChangesRequired Outcome = "changes_required"
)

// Verdict is the result of one gate stage for one round.
type Verdict struct {
	Stage    Stage     `json:"stage"`
	Outcome  Outcome   `json:"outcome"`
	Subtask  string    `json:"subtask"`
	Round    int       `json:"round"`
	Findings []Finding `json:"findings,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// Severity classifies a finding. Critical and Major block
// re-submission to the gate pipeline until resolved; Minor is advisory.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Blocking reports whether an unresolved finding of this severity
// keeps a subtask out of the gate pipeline.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// Finding is a single tagged issue raised by a gate stage.
type Finding struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Summary  string   `json:"summary"`
	Resolved bool     `json:"resolved"`
}

// BlockingFindings returns the unresolved Critical/Major findings.
func BlockingFindings(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity.Blocking() && !f.Resolved {
			out = append(out, f)
		}
	}
	return out
}
