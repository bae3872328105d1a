package render

import (
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
)

func init() {
	color.NoColor = true
}

func TestPlanRendering(t *testing.T) {
	subtasks := []packet.Subtask{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
		{ID: "d", DependsOn: []string{"a"}},
	}
	plan, err := planner.Build("pkt-1", subtasks)
	require.NoError(t, err)

	out := New(false).Plan(plan)
	assert.Contains(t, out, "Layer 1 (parallel workers=3)")
	assert.Contains(t, out, "Layer 2 (sequential)")
	assert.Contains(t, out, "• a")
	assert.Contains(t, out, "• d")
}

func TestPlanMarksCoordinated(t *testing.T) {
	subtasks := []packet.Subtask{
		{ID: "a", Owns: []string{"build/**"}},
		{ID: "b", Owns: []string{"build/cache/**"}},
		{ID: "c", Owns: []string{"docs/**"}},
		{ID: "d", Owns: []string{"api/**"}},
		{ID: "e", Owns: []string{"web/**"}},
	}
	plan, err := planner.Build("pkt-1", subtasks)
	require.NoError(t, err)

	out := New(false).Plan(plan)
	assert.Contains(t, out, "◆ a [coordinated]")
	assert.Contains(t, out, "◆ b [coordinated]")
	assert.Contains(t, out, "owner of build/**: a")
}

func TestEmptyPlan(t *testing.T) {
	plan, err := planner.Build("pkt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "No subtasks to dispatch", New(false).Plan(plan))
}

func TestReportRendering(t *testing.T) {
	report := &dispatch.Report{
		Succeeded: []string{"a"},
		Failed:    []string{"b"},
		Blocked:   []string{"c"},
		Respawns:  1,
	}
	out := New(false).Report(report)

	assert.Contains(t, out, "✓ a")
	assert.Contains(t, out, "✗ b failed")
	assert.Contains(t, out, "⊘ c blocked")
	assert.Contains(t, out, "1 respawn(s)")
}

func TestVerdictRendering(t *testing.T) {
	review := &packet.ReviewRecord{
		Rounds: []packet.Verdict{
			{Stage: packet.StageTester, Outcome: packet.OutcomeChangesRequired, Subtask: "a", Round: 1,
				Findings: []packet.Finding{{Severity: packet.SeverityCritical, Summary: "no tests"}}},
			{Stage: packet.StageTester, Outcome: packet.OutcomeApproved, Subtask: "a", Round: 2},
		},
	}
	out := New(false).Verdicts(review)

	assert.Contains(t, out, "[round 1] a/tester: changes_required")
	assert.Contains(t, out, "◉ critical: no tests")
	assert.Contains(t, out, "[round 2] a/tester: approved")
}

func TestCheckpointRendering(t *testing.T) {
	r := New(false)
	assert.Equal(t, "No checkpoints recorded", r.Checkpoint(nil))

	rec := &checkpoint.Record{Seq: 3, Timestamp: time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC), Note: "2 active"}
	out := r.Checkpoint(rec)
	assert.Contains(t, out, "[10:30:00] #3 2 active")
}

func TestStatusRendering(t *testing.T) {
	out := New(false).Status(packet.StateInProgress, 4, true)
	assert.Equal(t, "state=IN_PROGRESS subtasks=4 graph=true\n", out)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "2.5s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "long st...", Truncate("long string here", 10))
}

func TestIcons(t *testing.T) {
	assert.Equal(t, "✓", ExecIcon("success"))
	assert.Equal(t, "✗", ExecIcon("failed"))
	assert.Equal(t, "⊘", ExecIcon("blocked"))
	assert.Equal(t, "•", ExecIcon("pending"))

	assert.Equal(t, "◉", SeverityIcon("critical"))
	assert.Equal(t, "○", SeverityIcon("minor"))

	assert.Equal(t, "◐", HealthIcon("slow"))
	assert.Equal(t, "✗", HealthIcon("stuck"))
}

func TestWriterHelpers(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)
	w.Println("packet %s", "pkt-1")
	w.Section("subtasks")
	w.Item("a: %s", "success")
	w.Nested("finding: %s", "no tests")

	out := sb.String()
	assert.Contains(t, out, "packet pkt-1")
	assert.Contains(t, out, "SUBTASKS:")
	assert.Contains(t, out, "  a: success")
	assert.Contains(t, out, "    └─ finding: no tests")
}
