// Package gate implements the two-stage quality gate pipeline: a
// Tester verdict followed, only on approval, by a Reviewer verdict.
// Rejection is not an error; it is the normal loop back to IN_PROGRESS.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/packet"
)

// MaxRounds is the number of consecutive rounds with unresolved
// Critical/Major findings before the engine escalates instead of
// looping.
const MaxRounds = 3

// ErrUnresolvedFindings rejects re-submission while blocking findings
// from earlier rounds remain open.
var ErrUnresolvedFindings = errors.New("unresolved critical/major findings block re-submission")

// Stage produces a verdict for one subtask. Tester and Reviewer
// implementations are external collaborators; the engine sees only
// the verdict contract.
type Stage interface {
	Review(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error)

// Review calls the function.
func (f StageFunc) Review(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
	return f(ctx, sub)
}

// NonConvergentReviewError escalates a subtask whose gate rounds keep
// failing to resolve all blocking findings. It is surfaced to the
// operator, never auto-retried.
type NonConvergentReviewError struct {
	SubtaskID   string
	Rounds      int
	Outstanding []packet.Finding
}

func (e *NonConvergentReviewError) Error() string {
	return fmt.Sprintf("subtask %s: %d consecutive gate rounds with %d unresolved blocking findings",
		e.SubtaskID, e.Rounds, len(e.Outstanding))
}

// RoundResult reports one complete gate round.
type RoundResult struct {
	Approved bool
	Verdicts []packet.Verdict
}

// Engine runs the gate pipeline. The Reviewer stage is never entered
// while the current round's Tester verdict is anything but APPROVED.
type Engine struct {
	tester   Stage
	reviewer Stage
	log      *logging.Logger

	rounds     map[string]int // per-subtask round counter
	failStreak map[string]int // consecutive rounds ending with blocking findings
}

// NewEngine creates a gate engine with the given stages.
func NewEngine(tester, reviewer Stage) *Engine {
	return &Engine{
		tester:     tester,
		reviewer:   reviewer,
		log:        logging.New("gate"),
		rounds:     make(map[string]int),
		failStreak: make(map[string]int),
	}
}

// Submit runs one gate round for a subtask in SELF_REVIEWED. On
// rejection the subtask is back in IN_PROGRESS carrying its findings;
// on approval it is ACCEPTED. Unresolved blocking findings from prior
// rounds keep the subtask out of the pipeline entirely.
func (e *Engine) Submit(ctx context.Context, sub *packet.Subtask) (*RoundResult, error) {
	if blocking := packet.BlockingFindings(sub.Findings); len(blocking) > 0 {
		return nil, fmt.Errorf("subtask %s: %w (%d open)", sub.ID, ErrUnresolvedFindings, len(blocking))
	}

	e.rounds[sub.ID]++
	round := e.rounds[sub.ID]
	log := e.log.WithSubtask(sub.ID)

	if err := sub.Advance(packet.StateTesterPending); err != nil {
		return nil, err
	}

	result := &RoundResult{}

	testerVerdict, err := e.runStage(ctx, e.tester, packet.StageTester, sub, round)
	if err != nil {
		return nil, err
	}
	result.Verdicts = append(result.Verdicts, *testerVerdict)

	if testerVerdict.Outcome != packet.OutcomeApproved {
		log.Info("tester_changes_required", map[string]any{"round": round, "findings": len(testerVerdict.Findings)})
		if err := e.reject(sub, packet.StateTesterRejected, testerVerdict); err != nil {
			return nil, err
		}
		return result, e.checkConvergence(sub, round)
	}

	if err := sub.Advance(packet.StateTesterApproved); err != nil {
		return nil, err
	}
	if err := sub.Advance(packet.StateReviewerPending); err != nil {
		return nil, err
	}

	reviewerVerdict, err := e.runStage(ctx, e.reviewer, packet.StageReviewer, sub, round)
	if err != nil {
		return nil, err
	}
	result.Verdicts = append(result.Verdicts, *reviewerVerdict)

	if reviewerVerdict.Outcome != packet.OutcomeApproved {
		log.Info("reviewer_changes_required", map[string]any{"round": round, "findings": len(reviewerVerdict.Findings)})
		if err := e.reject(sub, packet.StateReviewerRejected, reviewerVerdict); err != nil {
			return nil, err
		}
		return result, e.checkConvergence(sub, round)
	}

	if err := sub.Advance(packet.StateReviewerApproved); err != nil {
		return nil, err
	}
	if err := sub.Advance(packet.StateAccepted); err != nil {
		return nil, err
	}

	e.failStreak[sub.ID] = 0
	result.Approved = true
	log.Info("gate_approved", map[string]any{"round": round})
	return result, nil
}

// runStage obtains one stage's verdict and stamps identity onto any
// findings the stage raised.
func (e *Engine) runStage(ctx context.Context, stage Stage, name packet.Stage, sub *packet.Subtask, round int) (*packet.Verdict, error) {
	verdict, err := stage.Review(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", name, err)
	}
	verdict.Stage = name
	verdict.Subtask = sub.ID
	verdict.Round = round
	verdict.IssuedAt = time.Now().UTC()
	for i := range verdict.Findings {
		if verdict.Findings[i].ID == "" {
			verdict.Findings[i].ID = fmt.Sprintf("%s-r%d-f%d", name, round, i+1)
		}
	}
	return verdict, nil
}

// reject routes the subtask back to IN_PROGRESS, merging the round's
// findings into the accumulated set. History is preserved, never
// replaced.
func (e *Engine) reject(sub *packet.Subtask, rejected packet.State, verdict *packet.Verdict) error {
	if err := sub.Advance(rejected); err != nil {
		return err
	}
	if err := sub.Advance(packet.StateInProgress); err != nil {
		return err
	}
	sub.Findings = append(sub.Findings, verdict.Findings...)
	return nil
}

// checkConvergence raises NonConvergentReviewError once MaxRounds
// consecutive rounds end with blocking findings still open.
func (e *Engine) checkConvergence(sub *packet.Subtask, round int) error {
	outstanding := packet.BlockingFindings(sub.Findings)
	if len(outstanding) == 0 {
		e.failStreak[sub.ID] = 0
		return nil
	}

	e.failStreak[sub.ID]++
	if e.failStreak[sub.ID] < MaxRounds {
		return nil
	}
	return &NonConvergentReviewError{
		SubtaskID:   sub.ID,
		Rounds:      e.failStreak[sub.ID],
		Outstanding: outstanding,
	}
}

// ResolveFinding marks one accumulated finding resolved, unblocking
// re-submission once no Critical/Major findings remain open.
func ResolveFinding(sub *packet.Subtask, findingID string) error {
	for i := range sub.Findings {
		if sub.Findings[i].ID == findingID {
			sub.Findings[i].Resolved = true
			return nil
		}
	}
	return fmt.Errorf("finding not found: %s", findingID)
}
