// Package coordinator runs the full coordination flow for one task
// packet: plan, dispatch under checkpoint supervision, gate, accept,
// archive. The coordinator delegates all production work to workers;
// it only directs.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/internal/archive"
	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/dispatch"
	"github.com/foremanhq/foreman/internal/gate"
	"github.com/foremanhq/foreman/internal/graph"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/planner"
	"github.com/foremanhq/foreman/internal/runtime"
	"github.com/foremanhq/foreman/internal/worker"
)

// Coordinator owns one packet's coordination run. Every collaborator
// is explicit: no globals beyond the metrics registry.
type Coordinator struct {
	store    *packet.Store
	runner   worker.Runner
	tester   gate.Stage
	reviewer gate.Stage
	token    *runtime.Token
	roster   *worker.Roster
	log      *logging.Logger

	// Archive receives the packet at the end of its life. Optional.
	Archive *archive.Archive
	// Exporter pushes the coordination graph. Optional; nil disables.
	Exporter *graph.Exporter
	// MonitorOptions tune the checkpoint monitor (interval, iteration cap).
	MonitorOptions []checkpoint.Option
}

// New creates a coordinator for the packet living in store.
func New(store *packet.Store, runner worker.Runner, tester, reviewer gate.Stage) *Coordinator {
	return &Coordinator{
		store:    store,
		runner:   runner,
		tester:   tester,
		reviewer: reviewer,
		token:    runtime.NewToken(),
		roster:   worker.NewRoster(),
		log:      logging.New("coordinator"),
	}
}

// Token returns the cancellation token an operator abandon sets.
func (c *Coordinator) Token() *runtime.Token { return c.token }

// Outcome is the result of one coordination run.
type Outcome struct {
	Packet    *packet.TaskPacket
	Plan      *planner.Plan
	Report    *dispatch.Report
	Rejected  []string // subtasks the gate sent back to IN_PROGRESS
	Accepted  bool
	Cancelled bool
}

// Run executes the coordination flow end to end: plan the subtask
// graph, dispatch it layer by layer under the checkpoint monitor, then
// push every completed subtask through the quality gate. The packet
// must be PLANNED with at least one subtask.
func (c *Coordinator) Run(ctx context.Context) (*Outcome, error) {
	p, err := c.store.LoadPacket()
	if err != nil {
		return nil, err
	}
	log := c.log.WithPacket(p.ID)

	if p.State != packet.StatePlanned {
		return nil, fmt.Errorf("packet %s is %s; only PLANNED packets run", p.ID, p.State)
	}
	if len(p.Subtasks) == 0 {
		return nil, fmt.Errorf("packet %s has no subtasks", p.ID)
	}

	plan, err := planner.Build(p.ID, p.Subtasks)
	if err != nil {
		// A strategy error is fatal: no partial plan, no dispatch.
		return nil, fmt.Errorf("plan packet %s: %w", p.ID, err)
	}
	log.Info("plan_built", map[string]any{"layers": len(plan.Layers), "subtasks": plan.TotalSubtasks()})

	if err := p.Advance(packet.StateInProgress); err != nil {
		return nil, err
	}
	for i := range p.Subtasks {
		st := &p.Subtasks[i]
		if st.State == "" {
			st.State = packet.StatePlanned
		}
		if st.State == packet.StatePlanned {
			if err := st.Advance(packet.StateInProgress); err != nil {
				return nil, err
			}
		}
	}
	if err := c.store.SavePacket(p); err != nil {
		return nil, err
	}
	c.note("coordinator", "", fmt.Sprintf("dispatch started: %d subtask(s) across %d layer(s)",
		plan.TotalSubtasks(), len(plan.Layers)))

	if c.Exporter.Enabled() {
		if err := c.Exporter.ExportPlan(ctx, p, plan); err != nil {
			log.Warn("graph_export_failed", nil, err)
		}
	}

	outcome := &Outcome{Packet: p, Plan: plan}

	report, dispatchErr := c.dispatchWithMonitor(ctx, p, plan)
	if report == nil {
		return outcome, dispatchErr
	}
	outcome.Report = report
	outcome.Cancelled = report.Cancelled

	metrics.Global().RecordDispatch(len(report.Failed), len(report.Blocked), report.Duration.Milliseconds())
	for range report.Succeeded {
		metrics.Global().RecordSpawn(false)
	}
	for i := 0; i < report.Respawns; i++ {
		metrics.Global().RecordSpawn(true)
	}

	if err := c.persistSubtasks(p); err != nil {
		return outcome, err
	}

	if c.Exporter.Enabled() {
		if err := c.Exporter.ExportOutcome(ctx, p, report); err != nil {
			log.Warn("graph_export_failed", nil, err)
		}
	}

	if report.Cancelled {
		c.note("coordinator", "", "run cancelled: "+c.token.Reason())
		return outcome, nil
	}
	if dispatchErr != nil {
		// Failed and blocked subtasks are surfaced to the operator.
		// The packet stays IN_PROGRESS; it can never reach ACCEPTED
		// while any subtask did not succeed.
		c.note("coordinator", "", "dispatch incomplete: "+dispatchErr.Error())
		return outcome, dispatchErr
	}

	if err := c.runGate(ctx, p, outcome); err != nil {
		return outcome, err
	}

	if err := c.persistSubtasks(p); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// dispatchWithMonitor runs the dispatcher with the checkpoint monitor
// sampling the shared roster in the background. The monitor's respawn
// requests feed straight into the dispatcher.
func (c *Coordinator) dispatchWithMonitor(ctx context.Context, p *packet.TaskPacket, plan *planner.Plan) (*dispatch.Report, error) {
	d := dispatch.New(c.runner, c.roster, c.token)
	d.Activity = c.note

	writer, err := checkpoint.NewWriter(c.store.Dir())
	if err != nil {
		return nil, err
	}
	monitor := checkpoint.New(c.roster, writer, c.MonitorOptions...)
	monitor.OnRespawn = d.Respawn
	monitor.Activity = func(sinceSeq int) []packet.ActivityEntry {
		entries, err := c.store.ReadActivity()
		if err != nil {
			return nil
		}
		for i, e := range entries {
			if e.Seq > sinceSeq {
				return entries[i:]
			}
		}
		return nil
	}
	monitor.OnGuidance = func(a *worker.Agent, msg string) {
		metrics.Global().RecordGuidance()
		c.note("monitor", a.SubtaskID, "guidance: "+msg)
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := monitor.Run(monitorCtx); err != nil && monitorCtx.Err() == nil {
			c.log.WithPacket(p.ID).Warn("monitor_stopped", nil, err)
		}
	}()

	start := time.Now()
	subtasks := make([]*packet.Subtask, len(p.Subtasks))
	for i := range p.Subtasks {
		subtasks[i] = &p.Subtasks[i]
	}
	report, dispatchErr := d.Run(ctx, plan, subtasks)
	report.Duration = time.Since(start)

	stopMonitor()
	<-monitorDone

	return report, dispatchErr
}

// runGate pushes each successful subtask through the two-stage gate.
// Rejected subtasks loop back to IN_PROGRESS carrying their findings;
// the packet only advances when every subtask is accepted.
func (c *Coordinator) runGate(ctx context.Context, p *packet.TaskPacket, outcome *Outcome) error {
	engine := gate.NewEngine(c.tester, c.reviewer)

	for i := range p.Subtasks {
		st := &p.Subtasks[i]
		if st.Exec != packet.ExecSuccess {
			continue
		}

		// Yield point before each gate submission.
		if c.token.Cancelled() {
			outcome.Cancelled = true
			return nil
		}

		if err := st.Advance(packet.StateSelfReviewed); err != nil {
			return err
		}
		c.note(st.WorkerID, st.ID, "submitted to quality gate")

		result, err := engine.Submit(ctx, st)
		if err != nil {
			return err
		}
		metrics.Global().RecordGateRound(result.Approved)

		p.Review.Rounds = append(p.Review.Rounds, result.Verdicts...)
		if !result.Approved {
			outcome.Rejected = append(outcome.Rejected, st.ID)
			c.note("gate", st.ID, fmt.Sprintf("changes required: %d finding(s)", len(st.Findings)))
		} else {
			c.note("gate", st.ID, "accepted")
		}
	}

	if err := c.store.WriteReview(&p.Review); err != nil {
		return err
	}

	if len(outcome.Rejected) > 0 {
		return nil
	}

	// Every subtask accepted: the packet follows the same chain.
	for _, s := range []packet.State{
		packet.StateSelfReviewed, packet.StateTesterPending, packet.StateTesterApproved,
		packet.StateReviewerPending, packet.StateReviewerApproved, packet.StateAccepted,
	} {
		if err := p.Advance(s); err != nil {
			return err
		}
	}
	if err := c.store.WriteAcceptance(true, "all subtasks passed the quality gate"); err != nil {
		return err
	}
	outcome.Accepted = true
	c.note("coordinator", "", "packet accepted")
	return nil
}

// ArchivePacket moves an ACCEPTED packet to ARCHIVED and stores it in
// the archive database.
func (c *Coordinator) ArchivePacket(ctx context.Context) error {
	p, err := c.store.LoadPacket()
	if err != nil {
		return err
	}
	if err := p.Advance(packet.StateArchived); err != nil {
		return err
	}
	if err := c.store.SavePacket(p); err != nil {
		return err
	}
	if c.Archive != nil {
		if err := c.Archive.Put(ctx, p); err != nil {
			return err
		}
	}
	c.note("coordinator", "", "packet archived")
	return nil
}

// Abandon is the operator-only exit: it sets the cancellation token so
// running work winds down at the next yield point, then moves the
// packet to ABANDONED.
func (c *Coordinator) Abandon(ctx context.Context, reason string) error {
	c.token.Cancel(reason)

	p, err := c.store.LoadPacket()
	if err != nil {
		return err
	}
	if err := p.Cancel(); err != nil {
		return err
	}
	if err := c.store.SavePacket(p); err != nil {
		return err
	}
	c.note("operator", "", "packet abandoned: "+reason)

	if c.Archive != nil {
		if err := c.Archive.Put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// persistSubtasks writes the mutated subtask set back to the plan
// record so execution statuses survive a coordinator restart.
func (c *Coordinator) persistSubtasks(p *packet.TaskPacket) error {
	if err := c.store.WritePlan(p.Plan, p.Subtasks); err != nil {
		return err
	}
	return c.store.SavePacket(p)
}

func (c *Coordinator) note(actor, subtask, note string) {
	if _, err := c.store.AppendActivity(actor, subtask, note); err != nil {
		c.log.Warn("activity_append_failed", map[string]any{"note": note}, err)
	}
}
