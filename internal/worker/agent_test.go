package worker

import (
	"context"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		parsed, err := ParseRole(string(r))
		if err != nil {
			t.Errorf("ParseRole(%s): %v", r, err)
		}
		if parsed != r {
			t.Errorf("expected %s, got %s", r, parsed)
		}
	}

	if _, err := ParseRole("janitor"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestRunnerFunc(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, spec Spec) (*Result, error) {
		return &Result{SubtaskID: spec.SubtaskID, Success: true, Output: "done"}, nil
	})

	res, err := runner.Accept(context.Background(), Spec{SubtaskID: "sub-a"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.SubtaskID != "sub-a" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestAgentActivity(t *testing.T) {
	a := NewAgent(RoleEngineer, "sub-a")

	past := time.Now().Add(-15 * time.Minute)
	a.TouchAt(past)
	if !a.LastActivity().Equal(past) {
		t.Error("TouchAt not recorded")
	}

	a.Touch()
	if time.Since(a.LastActivity()) > time.Second {
		t.Error("Touch did not refresh activity")
	}
}

func TestAgentBlocker(t *testing.T) {
	a := NewAgent(RoleTester, "sub-b")

	if a.Blocker() != "" {
		t.Error("new agent should have no blocker")
	}

	a.DeclareBlocker("waiting on schema decision")
	if a.Blocker() == "" {
		t.Error("blocker not recorded")
	}

	a.ClearBlocker()
	if a.Blocker() != "" {
		t.Error("blocker not cleared")
	}
}

func TestRosterDeterministicOrder(t *testing.T) {
	r := NewRoster()
	a1 := NewAgent(RoleEngineer, "sub-a")
	a2 := NewAgent(RoleEngineer, "sub-b")
	a3 := NewAgent(RoleTester, "sub-c")
	r.Add(a3)
	r.Add(a1)
	r.Add(a2)

	if r.Len() != 3 {
		t.Fatalf("expected 3 agents, got %d", r.Len())
	}

	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Error("roster list not sorted by ID")
		}
	}

	r.Remove(a2.ID)
	if r.Get(a2.ID) != nil {
		t.Error("removed agent still present")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 agents after removal, got %d", r.Len())
	}
}
