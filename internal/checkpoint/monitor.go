package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/worker"
)

// Defaults for the monitor's bounded lifetime. 1200 iterations at the
// default interval caps the background timer at ten hours.
const (
	DefaultInterval      = 30 * time.Second
	DefaultMaxIterations = 1200
)

// Health-classification windows over a worker's last activity.
const (
	HealthyWindow  = 2 * time.Minute
	StuckThreshold = 10 * time.Minute
)

// StuckStreakForRespawn is the number of consecutive STUCK
// classifications after which the monitor requests a respawn.
const StuckStreakForRespawn = 2

// BlockerPrefix marks an activity-log note that declares a blocker.
// Everything after the prefix is the blocker reason.
const BlockerPrefix = "blocker:"

// RespawnRequest asks the dispatcher to terminate and respawn a worker
// with a narrower subtask scope.
type RespawnRequest struct {
	AgentID   string
	SubtaskID string
	Reason    string
}

// Monitor samples worker liveness on a fixed interval for a bounded
// number of iterations. It never performs a worker's task: its only
// actions are messaging, requesting respawn, and reporting.
type Monitor struct {
	roster        *worker.Roster
	writer        *Writer
	interval      time.Duration
	maxIterations int
	now           func() time.Time
	log           *logging.Logger

	// OnGuidance delivers the automated nudge to STUCK/BLOCKED workers.
	OnGuidance func(agent *worker.Agent, message string)
	// OnRespawn surfaces a respawn request to the dispatcher.
	OnRespawn func(req RespawnRequest)
	// Activity, when set, supplies packet activity-log entries recorded
	// after seq. Worker entries refresh roster liveness before each
	// classification; without this feed a long-running worker would look
	// idle no matter how much it logs.
	Activity func(sinceSeq int) []packet.ActivityEntry

	seq         int
	activitySeq int
	stuckStreak map[string]int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the timer interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithMaxIterations bounds the monitor's total lifetime.
func WithMaxIterations(n int) Option {
	return func(m *Monitor) { m.maxIterations = n }
}

// WithClock injects a time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor over the given roster, persisting records
// through writer.
func New(roster *worker.Roster, writer *Writer, opts ...Option) *Monitor {
	m := &Monitor{
		roster:        roster,
		writer:        writer,
		interval:      DefaultInterval,
		maxIterations: DefaultMaxIterations,
		now:           time.Now,
		log:           logging.New("checkpoint"),
		stuckStreak:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run fires the timer maxIterations times, then returns nil. The hard
// iteration ceiling prevents a runaway background process; normal
// exhaustion is a clean exit.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for i := 0; i < m.maxIterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := m.Sample(); err != nil {
			return err
		}
	}
	return nil
}

// Classify buckets a worker by its last activity. An explicit blocker
// takes precedence over the idle-time windows.
func Classify(lastActivity time.Time, blocker string, now time.Time) worker.Health {
	if blocker != "" {
		return worker.HealthBlocked
	}
	idle := now.Sub(lastActivity)
	switch {
	case idle <= HealthyWindow:
		return worker.HealthHealthy
	case idle <= StuckThreshold:
		return worker.HealthSlow
	default:
		return worker.HealthStuck
	}
}

// absorbActivity folds activity-log entries recorded since the last
// sample into the roster. A worker's log entry counts as liveness; a
// note starting with BlockerPrefix declares an explicit blocker and
// "blocker cleared" removes it. Notes written by coordination actors
// on a worker's behalf are narration, not worker progress.
func (m *Monitor) absorbActivity() {
	if m.Activity == nil {
		return
	}

	byID := make(map[string]*worker.Agent)
	bySubtask := make(map[string]*worker.Agent)
	for _, a := range m.roster.List() {
		byID[a.ID] = a
		bySubtask[a.SubtaskID] = a
	}

	for _, e := range m.Activity(m.activitySeq) {
		if e.Seq > m.activitySeq {
			m.activitySeq = e.Seq
		}
		a := byID[e.Actor]
		if a == nil {
			if coordinationActor(e.Actor) {
				continue
			}
			a = bySubtask[e.Subtask]
		}
		if a == nil {
			continue
		}

		switch {
		case strings.HasPrefix(e.Note, BlockerPrefix):
			a.DeclareBlocker(strings.TrimSpace(strings.TrimPrefix(e.Note, BlockerPrefix)))
		case strings.EqualFold(e.Note, "blocker cleared"):
			a.ClearBlocker()
		}
		// Liveness only moves forward; a stale entry replayed on the
		// first sample must not age a freshly spawned agent.
		if e.Timestamp.After(a.LastActivity()) {
			a.TouchAt(e.Timestamp)
		}
	}
}

func coordinationActor(actor string) bool {
	switch actor {
	case "coordinator", "dispatcher", "monitor", "gate", "operator":
		return true
	}
	return false
}

// Sample performs one checkpoint firing: write a record, classify
// every active worker, and intervene on STUCK/BLOCKED ones.
func (m *Monitor) Sample() error {
	m.seq++
	now := m.now()

	m.absorbActivity()

	agents := m.roster.List()
	counts := map[worker.Health]int{}
	seen := make(map[string]bool, len(agents))

	for _, a := range agents {
		seen[a.ID] = true
		health := Classify(a.LastActivity(), a.Blocker(), now)
		a.SetHealth(health)
		counts[health]++

		switch health {
		case worker.HealthStuck:
			m.stuckStreak[a.ID]++
			m.guide(a)
			if m.stuckStreak[a.ID] >= StuckStreakForRespawn {
				m.requestRespawn(a)
				m.stuckStreak[a.ID] = 0
			}
		case worker.HealthBlocked:
			m.stuckStreak[a.ID] = 0
			m.guide(a)
		default:
			m.stuckStreak[a.ID] = 0
		}
	}

	// Drop streaks for agents torn down since the last firing.
	for id := range m.stuckStreak {
		if !seen[id] {
			delete(m.stuckStreak, id)
		}
	}

	metrics.Global().RecordCheckpoint(counts[worker.HealthStuck])

	rec := &Record{
		Seq:       m.seq,
		Timestamp: now,
		Note: fmt.Sprintf("%d active: %d healthy, %d slow, %d stuck, %d blocked",
			len(agents),
			counts[worker.HealthHealthy], counts[worker.HealthSlow],
			counts[worker.HealthStuck], counts[worker.HealthBlocked]),
	}
	if err := m.writer.Write(rec); err != nil {
		return fmt.Errorf("checkpoint %d: %w", m.seq, err)
	}

	m.log.Debug("checkpoint_written", map[string]any{"seq": m.seq, "note": rec.Note})
	return nil
}

// guide sends the automated guidance message. The monitor suggests a
// path forward; it never substitutes its own output for the worker's
// deliverable.
func (m *Monitor) guide(a *worker.Agent) {
	msg := "no recent progress observed; consider decomposing the current work into a smaller next step and logging it"
	if b := a.Blocker(); b != "" {
		msg = fmt.Sprintf("blocker noted (%s); if it cannot be cleared, log the smallest step that can proceed without it", b)
	}
	if m.OnGuidance != nil {
		m.OnGuidance(a, msg)
		return
	}
	m.log.WithWorker(a.ID).WithSubtask(a.SubtaskID).Info("guidance_sent", map[string]any{"message": msg})
}

func (m *Monitor) requestRespawn(a *worker.Agent) {
	req := RespawnRequest{
		AgentID:   a.ID,
		SubtaskID: a.SubtaskID,
		Reason:    fmt.Sprintf("stuck across %d consecutive checkpoints", StuckStreakForRespawn),
	}
	if m.OnRespawn != nil {
		m.OnRespawn(req)
	}
	m.log.WithWorker(a.ID).WithSubtask(a.SubtaskID).Warn("respawn_requested", map[string]any{"reason": req.Reason}, nil)
}
