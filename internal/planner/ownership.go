package planner

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternsConflict reports whether two ownership entries refer to
// overlapping resources. Entries are doublestar glob patterns; two
// entries collide when equal or when either pattern matches the other.
func PatternsConflict(a, b string) bool {
	if a == b {
		return true
	}
	if ok, err := doublestar.Match(a, b); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match(b, a); err == nil && ok {
		return true
	}
	return false
}

// resourceGroups partitions the ownership entries of a layer into
// overlapping groups and records which subtasks touch each group.
// Patterns are unioned transitively: "build/**" pulls "build/cache"
// into the same resource even if the two never name the same string.
type resourceGroups struct {
	parent   map[string]string
	touchers map[string]map[string]bool // root pattern -> subtask IDs
}

func newResourceGroups() *resourceGroups {
	return &resourceGroups{
		parent:   make(map[string]string),
		touchers: make(map[string]map[string]bool),
	}
}

func (g *resourceGroups) find(p string) string {
	if g.parent[p] == p {
		return p
	}
	root := g.find(g.parent[p])
	g.parent[p] = root
	return root
}

func (g *resourceGroups) union(a, b string) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return
	}
	// Keep the lexicographically smaller pattern as the canonical
	// resource name.
	if rb < ra {
		ra, rb = rb, ra
	}
	g.parent[rb] = ra
	for id := range g.touchers[rb] {
		g.touchers[ra][id] = true
	}
	delete(g.touchers, rb)
}

func (g *resourceGroups) add(subtaskID, pattern string) {
	if _, ok := g.parent[pattern]; !ok {
		g.parent[pattern] = pattern
		g.touchers[pattern] = make(map[string]bool)
	}
	g.touchers[g.find(pattern)][subtaskID] = true
}

// groupOwnership builds resource groups for one layer and returns,
// for every shared resource (touched by 2+ subtasks), its canonical
// name, its designated owner (lexicographically first subtask ID),
// and the set of coordinated subtask IDs.
func groupOwnership(members []member) (owners map[string]string, coordinated map[string]bool) {
	g := newResourceGroups()

	var patterns []string
	for _, m := range members {
		for _, p := range m.owns {
			g.add(m.id, p)
			patterns = append(patterns, p)
		}
	}

	// Union every conflicting pattern pair.
	for i := 0; i < len(patterns); i++ {
		for j := i + 1; j < len(patterns); j++ {
			if PatternsConflict(patterns[i], patterns[j]) {
				g.union(patterns[i], patterns[j])
			}
		}
	}

	owners = make(map[string]string)
	coordinated = make(map[string]bool)

	var roots []string
	for p := range g.touchers {
		roots = append(roots, p)
	}
	sort.Strings(roots)

	for _, root := range roots {
		ids := g.touchers[root]
		if len(ids) < 2 {
			continue
		}
		sorted := make([]string, 0, len(ids))
		for id := range ids {
			sorted = append(sorted, id)
		}
		sort.Strings(sorted)

		owners[root] = sorted[0]
		for _, id := range sorted {
			coordinated[id] = true
		}
	}
	return owners, coordinated
}

type member struct {
	id   string
	owns []string
}
