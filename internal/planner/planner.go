// Package planner computes the dispatch plan for a packet's subtasks:
// topological layers, per-layer concurrency, and the designated-owner
// annotations for shared resources.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/foremanhq/foreman/internal/packet"
)

// MaxWorkers is the concurrency cap applied to any parallel layer.
const MaxWorkers = 5

// ParallelThreshold is the number of INDEPENDENT subtasks in a layer
// at which parallel dispatch becomes mandatory.
const ParallelThreshold = 3

// Mode is how a layer is dispatched.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Classification marks a subtask's resource relationship within its layer.
type Classification string

const (
	// Independent subtasks have ownership sets disjoint from every
	// other member of their layer.
	Independent Classification = "independent"
	// Coordinated subtasks share a resource with a layer sibling and
	// must defer to the designated owner (soft mutual exclusion).
	Coordinated Classification = "coordinated"
)

// Layer is one topological batch of subtasks eligible to run together.
type Layer struct {
	Subtasks []string                  // member IDs, sorted
	Mode     Mode                      // parallel or sequential
	Workers  int                       // worker count for this layer
	Class    map[string]Classification // per-member classification
	// Owners maps each shared resource (canonical pattern) to the
	// designated owner: the lexicographically first subtask touching it.
	Owners map[string]string
}

// Plan is the ordered layer list the dispatcher executes.
type Plan struct {
	PacketID string
	Layers   []Layer
}

// TotalSubtasks returns the number of subtasks across all layers.
func (p *Plan) TotalSubtasks() int {
	n := 0
	for _, l := range p.Layers {
		n += len(l.Subtasks)
	}
	return n
}

// StrategyError is fatal: no partial plan is produced. Either the
// dependency graph contains a cycle (Cycle lists every member) or a
// subtask references a dependency that does not exist (Unknown).
type StrategyError struct {
	Cycle   []string
	Unknown []string
}

func (e *StrategyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " → "))
	}
	return fmt.Sprintf("unknown dependencies: %s", strings.Join(e.Unknown, ", "))
}

// Build computes the dispatch plan for a subtask set. The dependency
// graph is layered with Kahn's algorithm; a cycle fails the whole plan
// before any dispatch.
func Build(packetID string, subtasks []packet.Subtask) (*Plan, error) {
	if len(subtasks) == 0 {
		return &Plan{PacketID: packetID}, nil
	}

	byID := make(map[string]*packet.Subtask, len(subtasks))
	for i := range subtasks {
		byID[subtasks[i].ID] = &subtasks[i]
	}

	// Validate dependency references first: an unknown edge would
	// otherwise read as an unsatisfiable in-edge and masquerade as a cycle.
	var unknown []string
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if _, ok := byID[dep]; !ok {
				unknown = append(unknown, fmt.Sprintf("%s → %s", st.ID, dep))
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &StrategyError{Unknown: unknown}
	}

	// Kahn's algorithm, one layer per extraction round.
	indegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string)
	for _, st := range subtasks {
		indegree[st.ID] += 0
		for _, dep := range st.DependsOn {
			indegree[st.ID]++
			dependents[dep] = append(dependents[dep], st.ID)
		}
	}

	var layers [][]string
	remaining := len(subtasks)
	for remaining > 0 {
		var ready []string
		for id, deg := range indegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, &StrategyError{Cycle: cycleMembers(subtasks)}
		}
		sort.Strings(ready)
		layers = append(layers, ready)

		for _, id := range ready {
			delete(indegree, id)
			remaining--
			for _, dep := range dependents[id] {
				if _, alive := indegree[dep]; alive {
					indegree[dep]--
				}
			}
		}
	}

	plan := &Plan{PacketID: packetID}
	for _, ids := range layers {
		plan.Layers = append(plan.Layers, buildLayer(ids, byID))
	}
	return plan, nil
}

// buildLayer classifies a layer's members and applies the dispatch
// policy: 3+ INDEPENDENT members make parallel dispatch mandatory,
// capped at MaxWorkers; smaller or fully coordinated layers run
// sequentially.
func buildLayer(ids []string, byID map[string]*packet.Subtask) Layer {
	members := make([]member, len(ids))
	for i, id := range ids {
		members[i] = member{id: id, owns: byID[id].Owns}
	}

	owners, coordinated := groupOwnership(members)

	class := make(map[string]Classification, len(ids))
	independent := 0
	for _, id := range ids {
		if coordinated[id] {
			class[id] = Coordinated
		} else {
			class[id] = Independent
			independent++
		}
	}

	layer := Layer{
		Subtasks: ids,
		Class:    class,
		Owners:   owners,
		Mode:     ModeSequential,
		Workers:  1,
	}
	if independent >= ParallelThreshold {
		layer.Mode = ModeParallel
		layer.Workers = min(len(ids), MaxWorkers)
	}
	return layer
}

// cycleMembers enumerates every subtask that sits on a dependency
// cycle: a node is a member when it can reach itself through at least
// one edge.
func cycleMembers(subtasks []packet.Subtask) []string {
	adj := make(map[string][]string)
	for _, st := range subtasks {
		// Edge dep → st: st waits on dep.
		for _, dep := range st.DependsOn {
			adj[dep] = append(adj[dep], st.ID)
		}
	}

	reaches := func(from, target string) bool {
		seen := make(map[string]bool)
		stack := append([]string(nil), adj[from]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n == target {
				return true
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			stack = append(stack, adj[n]...)
		}
		return false
	}

	var cycle []string
	for _, st := range subtasks {
		if reaches(st.ID, st.ID) {
			cycle = append(cycle, st.ID)
		}
	}
	sort.Strings(cycle)
	return cycle
}
