// Package dispatch executes a plan layer by layer: spawning workers,
// enforcing the concurrency cap, propagating failure to dependents, and
// honoring cooperative cancellation at yield points.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
	"github.com/foremanhq/foreman/internal/runtime"
	"github.com/foremanhq/foreman/internal/worker"
)

// MaxRespawnAttempts bounds how many times a stalled subtask is
// re-dispatched with a narrowed scope before it is failed outright.
const MaxRespawnAttempts = 3

// ─────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────

// DispatchError reports a run that left subtasks failed or stranded.
// The packet survives; the error tells the operator what needs
// attention before the packet can move forward.
type DispatchError struct {
	PacketID string
	Failed   []string
	Blocked  []string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("packet %s: %d subtask(s) failed (%s), %d blocked (%s)",
		e.PacketID,
		len(e.Failed), strings.Join(e.Failed, ", "),
		len(e.Blocked), strings.Join(e.Blocked, ", "))
}

// ResourceConflictError holds a layer for manual resolution: a shared
// resource has sharers but the plan names no designated owner for it.
type ResourceConflictError struct {
	Layer    int
	Subtasks []string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("layer %d: coordinated subtasks without a designated owner: %s",
		e.Layer, strings.Join(e.Subtasks, ", "))
}

// ─────────────────────────────────────────────────────────────────────
// Report
// ─────────────────────────────────────────────────────────────────────

// Report summarizes one dispatch run.
type Report struct {
	PacketID  string
	Layers    int // layers fully executed
	Results   map[string]*worker.Result
	Succeeded []string
	Failed    []string
	Blocked   []string
	Respawns  int
	Cancelled bool
	Duration  time.Duration
}

// ─────────────────────────────────────────────────────────────────────
// Dispatcher
// ─────────────────────────────────────────────────────────────────────

// Dispatcher walks a plan's layers in order. A layer is a barrier: no
// member of layer N+1 starts until every member of layer N has reached
// a terminal execution status.
type Dispatcher struct {
	runner worker.Runner
	roster *worker.Roster
	token  *runtime.Token
	log    *logging.Logger

	// Activity, when set, receives one note per dispatch event for the
	// packet's append-only log.
	Activity func(actor, subtask, note string)

	mu       sync.Mutex
	attempts map[string]int
	respawn  map[string]string             // subtask → reason, pending re-dispatch
	cancels  map[string]context.CancelFunc // per-attempt cancel funcs
	respawns int
}

// New creates a dispatcher. The token is polled only at yield points:
// before each subtask starts and at layer boundaries.
func New(runner worker.Runner, roster *worker.Roster, token *runtime.Token) *Dispatcher {
	return &Dispatcher{
		runner:   runner,
		roster:   roster,
		token:    token,
		log:      logging.New("dispatch"),
		attempts: make(map[string]int),
		respawn:  make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Respawn accepts a monitor respawn request: the running attempt is
// cancelled and the subtask is re-dispatched with a narrowed scope,
// up to MaxRespawnAttempts.
func (d *Dispatcher) Respawn(req checkpoint.RespawnRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.respawn[req.SubtaskID] = req.Reason
	if cancel, ok := d.cancels[req.SubtaskID]; ok {
		cancel()
	}
	d.log.WithSubtask(req.SubtaskID).Warn("respawn_accepted", map[string]any{"reason": req.Reason}, nil)
}

// Run executes the plan against the packet's subtasks. Subtasks already
// marked blocked are skipped; a failed subtask blocks every transitive
// dependent. The returned report is complete even when err is non-nil.
func (d *Dispatcher) Run(ctx context.Context, plan *planner.Plan, subtasks []*packet.Subtask) (*Report, error) {
	report := &Report{
		PacketID: plan.PacketID,
		Results:  make(map[string]*worker.Result),
	}

	byID := make(map[string]*packet.Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	for i, layer := range plan.Layers {
		// Yield point: layer boundary.
		if d.token.Cancelled() {
			report.Cancelled = true
			d.note("dispatcher", "", fmt.Sprintf("dispatch halted before layer %d: %s", i+1, d.token.Reason()))
			break
		}

		if conflicted := unownedSharers(layer); len(conflicted) > 0 {
			return report, &ResourceConflictError{Layer: i + 1, Subtasks: conflicted}
		}

		runnable := d.collectRunnable(layer, byID, report)
		if len(runnable) == 0 {
			report.Layers++
			continue
		}

		d.note("dispatcher", "", fmt.Sprintf("layer %d/%d: dispatching %d subtask(s), mode=%s, workers=%d",
			i+1, len(plan.Layers), len(runnable), layer.Mode, layer.Workers))

		d.runLayer(ctx, layer, runnable, report)
		report.Layers++

		// Barrier crossed: every member is terminal. Strand the
		// dependents of anything that failed.
		d.propagateBlocked(subtasks, report)
	}

	d.summarize(subtasks, report)

	if len(report.Failed) > 0 || len(report.Blocked) > 0 {
		return report, &DispatchError{
			PacketID: plan.PacketID,
			Failed:   report.Failed,
			Blocked:  report.Blocked,
		}
	}
	return report, nil
}

// collectRunnable filters a layer down to members that still need to
// run, skipping anything stranded by an earlier failure.
func (d *Dispatcher) collectRunnable(layer planner.Layer, byID map[string]*packet.Subtask, report *Report) []*packet.Subtask {
	var runnable []*packet.Subtask
	for _, id := range layer.Subtasks {
		st, ok := byID[id]
		if !ok {
			continue
		}
		if st.Exec == packet.ExecBlocked {
			d.note("dispatcher", st.ID, "skipped: blocked by failed dependency")
			continue
		}
		if st.Exec.Terminal() {
			continue
		}
		runnable = append(runnable, st)
	}
	return runnable
}

// runLayer executes one layer's members and waits for all of them.
// Independent members run concurrently under the layer's worker cap;
// coordinated members run as a single ordered unit so each designated
// owner finishes before its sharers touch the resource.
func (d *Dispatcher) runLayer(ctx context.Context, layer planner.Layer, runnable []*packet.Subtask, report *Report) {
	var independent, coordinated []*packet.Subtask
	for _, st := range runnable {
		if layer.Class[st.ID] == planner.Coordinated {
			coordinated = append(coordinated, st)
		} else {
			independent = append(independent, st)
		}
	}
	// The designated owner is the lexicographically first sharer, so ID
	// order puts every owner ahead of its sharers.
	sort.Slice(coordinated, func(i, j int) bool { return coordinated[i].ID < coordinated[j].ID })

	if layer.Mode == planner.ModeSequential {
		for _, st := range append(independent, coordinated...) {
			if d.yield(st, report) {
				return
			}
			d.execute(ctx, st, report, nil)
		}
		return
	}

	sem := make(chan struct{}, layer.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	dispatchOne := func(st *packet.Subtask) {
		defer wg.Done()
		sem <- struct{}{}
		defer func() { <-sem }()
		d.execute(ctx, st, report, &mu)
	}

	for _, st := range independent {
		if d.yield(st, report) {
			break
		}
		wg.Add(1)
		go dispatchOne(st)
	}

	if len(coordinated) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			for _, st := range coordinated {
				if d.yield(st, report) {
					return
				}
				d.execute(ctx, st, report, &mu)
			}
		}()
	}

	wg.Wait()
}

// yield is the pre-subtask yield point. A set token leaves the subtask
// untouched in its pending state.
func (d *Dispatcher) yield(st *packet.Subtask, report *Report) bool {
	if !d.token.Cancelled() {
		return false
	}
	report.Cancelled = true
	d.note("dispatcher", st.ID, "not started: "+d.token.Reason())
	return true
}

// execute runs one subtask to a terminal status, honoring respawn
// requests between attempts. mu guards the shared report in parallel
// layers; nil means single-threaded.
func (d *Dispatcher) execute(ctx context.Context, st *packet.Subtask, report *Report, mu *sync.Mutex) {
	record := func(fn func()) {
		if mu != nil {
			mu.Lock()
			defer mu.Unlock()
		}
		fn()
	}

	for {
		d.mu.Lock()
		d.attempts[st.ID]++
		attempt := d.attempts[st.ID]
		reason := d.respawn[st.ID]
		delete(d.respawn, st.ID)
		d.mu.Unlock()

		spec := worker.Spec{
			SubtaskID: st.ID,
			PacketID:  st.PacketID,
			Work:      st.Spec,
			Owns:      st.Owns,
			Attempt:   attempt,
		}
		if reason != "" {
			spec.ScopeNote = fmt.Sprintf("respawned after stall (%s); narrow focus to the smallest next deliverable", reason)
		}

		agent := worker.NewAgent(worker.RoleEngineer, st.ID)
		d.roster.Add(agent)
		st.WorkerID = agent.ID
		st.Exec = packet.ExecRunning
		d.note(agent.ID, st.ID, fmt.Sprintf("spawned (attempt %d)", attempt))

		attemptCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.cancels[st.ID] = cancel
		d.mu.Unlock()

		start := time.Now()
		res, err := d.runner.Accept(attemptCtx, spec)
		cancel()

		d.mu.Lock()
		delete(d.cancels, st.ID)
		pendingRespawn := d.respawn[st.ID] != ""
		d.mu.Unlock()

		d.roster.Remove(agent.ID)

		// attempt 1 is the initial spawn; the budget bounds re-dispatches,
		// so the subtask fails only on the stall after the third respawn.
		if pendingRespawn && attempt <= MaxRespawnAttempts {
			d.mu.Lock()
			d.respawns++
			d.mu.Unlock()
			record(func() { report.Respawns++ })
			d.note(agent.ID, st.ID, fmt.Sprintf("attempt %d terminated for respawn", attempt))
			continue
		}

		if err != nil || res == nil || !res.Success {
			st.Exec = packet.ExecFailed
			detail := "worker reported failure"
			if err != nil {
				detail = err.Error()
			} else if res != nil && res.Error != "" {
				detail = res.Error
			}
			if pendingRespawn {
				detail = fmt.Sprintf("respawn budget exhausted after %d respawns", attempt-1)
			}
			d.note(agent.ID, st.ID, "failed: "+detail)
			record(func() {
				report.Failed = append(report.Failed, st.ID)
				if res != nil {
					report.Results[st.ID] = res
				}
			})
			return
		}

		res.WorkerID = agent.ID
		res.Duration = time.Since(start)
		st.Exec = packet.ExecSuccess
		d.note(agent.ID, st.ID, "completed")
		record(func() {
			report.Succeeded = append(report.Succeeded, st.ID)
			report.Results[st.ID] = res
		})
		return
	}
}

// propagateBlocked strands every transitive dependent of a failed
// subtask. Blocked subtasks are never dispatched.
func (d *Dispatcher) propagateBlocked(subtasks []*packet.Subtask, report *Report) {
	dependents := make(map[string][]*packet.Subtask)
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			dependents[dep] = append(dependents[dep], st)
		}
	}

	var queue []string
	for _, st := range subtasks {
		if st.Exec == packet.ExecFailed || st.Exec == packet.ExecBlocked {
			queue = append(queue, st.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if dep.Exec.Terminal() {
				continue
			}
			dep.Exec = packet.ExecBlocked
			d.note("dispatcher", dep.ID, fmt.Sprintf("blocked: dependency %s did not succeed", id))
			queue = append(queue, dep.ID)
		}
	}
}

// summarize folds the final execution statuses into the report. Blocked
// membership is derived from the subtasks, not accumulated, so it is
// correct regardless of when propagation ran.
func (d *Dispatcher) summarize(subtasks []*packet.Subtask, report *Report) {
	report.Blocked = report.Blocked[:0]
	for _, st := range subtasks {
		if st.Exec == packet.ExecBlocked {
			report.Blocked = append(report.Blocked, st.ID)
		}
	}
	sort.Strings(report.Succeeded)
	sort.Strings(report.Failed)
	sort.Strings(report.Blocked)
}

// unownedSharers returns coordinated members whose shared resource has
// no designated owner in the plan.
func unownedSharers(layer planner.Layer) []string {
	if len(layer.Owners) > 0 {
		return nil
	}
	var out []string
	for id, class := range layer.Class {
		if class == planner.Coordinated {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) note(actor, subtask, note string) {
	if d.Activity != nil {
		d.Activity(actor, subtask, note)
	}
	d.log.WithSubtask(subtask).Debug("activity", map[string]any{"actor": actor, "note": note})
}
