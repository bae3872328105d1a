package planner

import "testing"

func TestPatternsConflict(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"build/cache", "build/cache", true},
		{"build/**", "build/cache", true},
		{"build/cache", "build/**", true},
		{"docs/*.md", "docs/readme.md", true},
		{"pkg/api/**", "pkg/cli/**", false},
		{"coverage.out", "lint.out", false},
	}

	for _, c := range cases {
		if got := PatternsConflict(c.a, c.b); got != c.want {
			t.Errorf("PatternsConflict(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestGroupOwnershipTransitiveUnion(t *testing.T) {
	// "build/**" overlaps "build/cache" and "build/out"; all three
	// subtasks share one resource even though B and C never name the
	// same string.
	members := []member{
		{id: "A", owns: []string{"build/**"}},
		{id: "B", owns: []string{"build/cache"}},
		{id: "C", owns: []string{"build/out"}},
	}

	owners, coordinated := groupOwnership(members)

	if len(owners) != 1 {
		t.Fatalf("expected 1 shared resource, got %d", len(owners))
	}
	if owner := owners["build/**"]; owner != "A" {
		t.Errorf("expected owner A, got %q", owner)
	}
	for _, id := range []string{"A", "B", "C"} {
		if !coordinated[id] {
			t.Errorf("%s should be coordinated", id)
		}
	}
}

func TestGroupOwnershipDisjoint(t *testing.T) {
	members := []member{
		{id: "A", owns: []string{"pkg/api/**"}},
		{id: "B", owns: []string{"pkg/cli/**"}},
	}

	owners, coordinated := groupOwnership(members)

	if len(owners) != 0 {
		t.Errorf("expected no shared resources, got %v", owners)
	}
	if len(coordinated) != 0 {
		t.Errorf("expected no coordinated subtasks, got %v", coordinated)
	}
}

func TestGroupOwnershipNoOwnership(t *testing.T) {
	members := []member{{id: "A"}, {id: "B"}}

	owners, coordinated := groupOwnership(members)
	if len(owners) != 0 || len(coordinated) != 0 {
		t.Error("subtasks without ownership sets are always independent")
	}
}
