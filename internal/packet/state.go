package packet

import "fmt"

// State is the authoritative lifecycle state for a packet or subtask.
type State string

const (
	StateDraft            State = "DRAFT"
	StateContracted       State = "CONTRACTED"
	StatePlanned          State = "PLANNED"
	StateInProgress       State = "IN_PROGRESS"
	StateSelfReviewed     State = "SELF_REVIEWED"
	StateTesterPending    State = "TESTER_PENDING"
	StateTesterApproved   State = "TESTER_APPROVED"
	StateTesterRejected   State = "TESTER_REJECTED"
	StateReviewerPending  State = "REVIEWER_PENDING"
	StateReviewerApproved State = "REVIEWER_APPROVED"
	StateReviewerRejected State = "REVIEWER_REJECTED"
	StateAccepted         State = "ACCEPTED"
	StateArchived         State = "ARCHIVED"
	StateAbandoned        State = "ABANDONED"
)

// transitions is the legal state graph. A rejection at either gate
// loops back to IN_PROGRESS; accumulated findings are kept by the
// caller, the machine only guards edges.
var transitions = map[State][]State{
	StateDraft:            {StateContracted},
	StateContracted:       {StatePlanned},
	StatePlanned:          {StateInProgress},
	StateInProgress:       {StateSelfReviewed},
	StateSelfReviewed:     {StateTesterPending},
	StateTesterPending:    {StateTesterApproved, StateTesterRejected},
	StateTesterApproved:   {StateReviewerPending},
	StateTesterRejected:   {StateInProgress},
	StateReviewerPending:  {StateReviewerApproved, StateReviewerRejected},
	StateReviewerApproved: {StateAccepted},
	StateReviewerRejected: {StateInProgress},
	StateAccepted:         {StateArchived},
	StateArchived:         {},
	StateAbandoned:        {},
}

// Terminal reports whether no further transitions are possible
// (ARCHIVED and ABANDONED; ACCEPTED only admits archival).
func (s State) Terminal() bool {
	return s == StateArchived || s == StateAbandoned
}

// CanTransition reports whether from → to is a legal edge.
// ABANDONED is reachable from any non-terminal state, but only through
// Cancel: it is never offered as an automatic transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports a rejected state change.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s → %s", e.From, e.To)
}

// Transition validates and returns the new state.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, &IllegalTransitionError{From: from, To: to}
	}
	return to, nil
}

// Advance moves the subtask to the given state, preserving findings.
func (s *Subtask) Advance(to State) error {
	next, err := Transition(s.State, to)
	if err != nil {
		return err
	}
	s.State = next
	return nil
}

// Advance moves the packet to the given state.
func (p *TaskPacket) Advance(to State) error {
	next, err := Transition(p.State, to)
	if err != nil {
		return err
	}
	p.State = next
	if next == StateAccepted {
		p.Accepted = true
	}
	return nil
}

// Cancel abandons the packet. Operator-only: nothing in the
// coordinator calls this automatically.
func (p *TaskPacket) Cancel() error {
	if p.State.Terminal() || p.State == StateAccepted {
		return &IllegalTransitionError{From: p.State, To: StateAbandoned}
	}
	p.State = StateAbandoned
	return nil
}
