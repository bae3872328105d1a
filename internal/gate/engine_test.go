package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/packet"
)

func approveStage() Stage {
	return StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		return &packet.Verdict{Outcome: packet.OutcomeApproved}, nil
	})
}

func rejectStage(findings ...packet.Finding) Stage {
	return StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		return &packet.Verdict{Outcome: packet.OutcomeChangesRequired, Findings: findings}, nil
	})
}

func selfReviewedSubtask(id string) *packet.Subtask {
	return &packet.Subtask{ID: id, State: packet.StateSelfReviewed}
}

// resubmit walks a rejected subtask back through self-review.
func resubmit(t *testing.T, sub *packet.Subtask) {
	t.Helper()
	require.NoError(t, sub.Advance(packet.StateSelfReviewed))
}

func TestBothStagesApprove(t *testing.T) {
	engine := NewEngine(approveStage(), approveStage())
	sub := selfReviewedSubtask("sub-a")

	result, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, packet.StateAccepted, sub.State)
	require.Len(t, result.Verdicts, 2)
	assert.Equal(t, packet.StageTester, result.Verdicts[0].Stage)
	assert.Equal(t, packet.StageReviewer, result.Verdicts[1].Stage)
}

func TestReviewerNeverInvokedAfterTesterRejection(t *testing.T) {
	reviewerCalled := false
	reviewer := StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		reviewerCalled = true
		return &packet.Verdict{Outcome: packet.OutcomeApproved}, nil
	})

	engine := NewEngine(rejectStage(
		packet.Finding{Severity: packet.SeverityCritical, Summary: "no tests"},
		packet.Finding{Severity: packet.SeverityCritical, Summary: "broken build"},
	), reviewer)

	sub := selfReviewedSubtask("sub-a")
	result, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.False(t, reviewerCalled, "reviewer must not run without tester approval")
	assert.False(t, result.Approved)
	assert.Equal(t, packet.StateInProgress, sub.State, "rejection loops back to IN_PROGRESS")
	assert.Len(t, sub.Findings, 2, "findings carried back with the subtask")
}

func TestBlockingFindingsPreventResubmission(t *testing.T) {
	engine := NewEngine(rejectStage(
		packet.Finding{Severity: packet.SeverityMajor, Summary: "missing error path"},
	), approveStage())

	sub := selfReviewedSubtask("sub-a")
	_, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	resubmit(t, sub)
	_, err = engine.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrUnresolvedFindings)

	// Resolving the finding reopens the pipeline.
	require.NoError(t, ResolveFinding(sub, sub.Findings[0].ID))
	_, err = engine.Submit(context.Background(), sub)
	assert.NoError(t, err)
}

func TestMinorFindingsNeverBlock(t *testing.T) {
	engine := NewEngine(rejectStage(
		packet.Finding{Severity: packet.SeverityMinor, Summary: "typo in comment"},
		packet.Finding{Severity: packet.SeverityMinor, Summary: "wording"},
	), approveStage())

	sub := selfReviewedSubtask("sub-a")
	_, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	// Re-submission allowed with minor findings still open.
	resubmit(t, sub)
	_, err = engine.Submit(context.Background(), sub)
	assert.NoError(t, err)
}

func TestReviewerRejectionLoopsBack(t *testing.T) {
	engine := NewEngine(approveStage(), rejectStage(
		packet.Finding{Severity: packet.SeverityMajor, Summary: "wrong abstraction"},
	))

	sub := selfReviewedSubtask("sub-a")
	result, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	assert.False(t, result.Approved)
	assert.Equal(t, packet.StateInProgress, sub.State)
	require.Len(t, result.Verdicts, 2, "tester approved, reviewer rejected")
}

func TestNonConvergenceEscalatesAfterThreeRounds(t *testing.T) {
	// Every round raises a fresh critical finding, so blocking
	// findings are never fully resolved.
	round := 0
	tester := StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		round++
		return &packet.Verdict{
			Outcome: packet.OutcomeChangesRequired,
			Findings: []packet.Finding{
				{Severity: packet.SeverityCritical, Summary: "new regression"},
			},
		}, nil
	})

	engine := NewEngine(tester, approveStage())
	sub := selfReviewedSubtask("sub-a")

	var err error
	for i := 0; i < MaxRounds; i++ {
		if i > 0 {
			// Operator resolves the previous round's findings so the
			// subtask can re-enter the pipeline.
			for j := range sub.Findings {
				sub.Findings[j].Resolved = true
			}
			resubmit(t, sub)
		}
		_, err = engine.Submit(context.Background(), sub)
	}

	var nonConvergent *NonConvergentReviewError
	require.ErrorAs(t, err, &nonConvergent)
	assert.Equal(t, "sub-a", nonConvergent.SubtaskID)
	assert.Equal(t, MaxRounds, nonConvergent.Rounds)
	assert.NotEmpty(t, nonConvergent.Outstanding)
}

func TestStageErrorPropagates(t *testing.T) {
	boom := errors.New("stage unavailable")
	tester := StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		return nil, boom
	})

	engine := NewEngine(tester, approveStage())
	sub := selfReviewedSubtask("sub-a")

	_, err := engine.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, boom)
}

func TestFindingsGetStableIDs(t *testing.T) {
	engine := NewEngine(rejectStage(
		packet.Finding{Severity: packet.SeverityMajor, Summary: "a"},
		packet.Finding{Severity: packet.SeverityMinor, Summary: "b"},
	), approveStage())

	sub := selfReviewedSubtask("sub-a")
	_, err := engine.Submit(context.Background(), sub)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, f := range sub.Findings {
		assert.NotEmpty(t, f.ID)
		ids[f.ID] = true
	}
	assert.Len(t, ids, 2, "finding IDs must be unique")
}
