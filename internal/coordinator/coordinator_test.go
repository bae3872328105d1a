package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/archive"
	"github.com/foremanhq/foreman/internal/checkpoint"
	"github.com/foremanhq/foreman/internal/gate"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/worker"
)

func approveAll() gate.Stage {
	return gate.StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		return &packet.Verdict{Outcome: packet.OutcomeApproved}, nil
	})
}

func okRunner() worker.Runner {
	return worker.RunnerFunc(func(ctx context.Context, spec worker.Spec) (*worker.Result, error) {
		return &worker.Result{SubtaskID: spec.SubtaskID, Success: true}, nil
	})
}

func plannedStore(t *testing.T, subtasks []packet.Subtask) *packet.Store {
	t.Helper()
	store, err := packet.NewStore(t.TempDir())
	require.NoError(t, err)

	p := packet.New("test packet")
	for i := range subtasks {
		subtasks[i].PacketID = p.ID
	}
	p.Subtasks = subtasks
	require.NoError(t, p.Advance(packet.StateContracted))
	require.NoError(t, p.Advance(packet.StatePlanned))
	require.NoError(t, store.SavePacket(p))
	require.NoError(t, store.WriteContract("deliver the thing"))
	require.NoError(t, store.WritePlan("layered plan", subtasks))
	return store
}

func TestFullFlowReachesAccepted(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{
		{ID: "a", Spec: "schema"},
		{ID: "b", Spec: "handlers", DependsOn: []string{"a"}},
	})

	c := New(store, okRunner(), approveAll(), approveAll())
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Accepted)
	assert.Empty(t, outcome.Rejected)
	assert.Equal(t, packet.StateAccepted, outcome.Packet.State)
	assert.True(t, outcome.Packet.Accepted)

	// Every subtask individually accepted.
	for _, st := range outcome.Packet.Subtasks {
		assert.Equal(t, packet.StateAccepted, st.State)
		assert.Equal(t, packet.ExecSuccess, st.Exec)
	}

	// The run is durable: a fresh load sees the same state.
	reloaded, err := store.LoadPacket()
	require.NoError(t, err)
	assert.Equal(t, packet.StateAccepted, reloaded.State)
	assert.NotEmpty(t, reloaded.Activity)
}

func TestRunRequiresPlannedState(t *testing.T) {
	store, err := packet.NewStore(t.TempDir())
	require.NoError(t, err)
	p := packet.New("draft packet")
	require.NoError(t, store.SavePacket(p))

	c := New(store, okRunner(), approveAll(), approveAll())
	_, err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only PLANNED packets run")
}

func TestCycleIsFatalBeforeDispatch(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})

	dispatched := false
	runner := worker.RunnerFunc(func(ctx context.Context, spec worker.Spec) (*worker.Result, error) {
		dispatched = true
		return &worker.Result{Success: true}, nil
	})

	c := New(store, runner, approveAll(), approveAll())
	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
	assert.False(t, dispatched, "no dispatch happens on a strategy error")

	// The packet never left PLANNED.
	p, err := store.LoadPacket()
	require.NoError(t, err)
	assert.Equal(t, packet.StatePlanned, p.State)
}

func TestFailedSubtaskKeepsPacketOutOfAccepted(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{
		{ID: "a", Spec: "breaks"},
		{ID: "b", Spec: "depends", DependsOn: []string{"a"}},
	})

	runner := worker.RunnerFunc(func(ctx context.Context, spec worker.Spec) (*worker.Result, error) {
		return &worker.Result{SubtaskID: spec.SubtaskID, Success: false, Error: "compile error"}, nil
	})

	c := New(store, runner, approveAll(), approveAll())
	outcome, err := c.Run(context.Background())
	require.Error(t, err)

	assert.False(t, outcome.Accepted)
	assert.Equal(t, packet.StateInProgress, outcome.Packet.State)
	assert.Contains(t, outcome.Report.Failed, "a")
	assert.Contains(t, outcome.Report.Blocked, "b")
}

func TestGateRejectionLeavesPacketInProgress(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{{ID: "a", Spec: "work"}})

	rejecting := gate.StageFunc(func(ctx context.Context, sub *packet.Subtask) (*packet.Verdict, error) {
		return &packet.Verdict{
			Outcome:  packet.OutcomeChangesRequired,
			Findings: []packet.Finding{{Severity: packet.SeverityMajor, Summary: "no tests"}},
		}, nil
	})

	c := New(store, okRunner(), rejecting, approveAll())
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Accepted)
	assert.Equal(t, []string{"a"}, outcome.Rejected)
	assert.Equal(t, packet.StateInProgress, outcome.Packet.State)
	assert.Equal(t, packet.StateInProgress, outcome.Packet.Subtasks[0].State)
	assert.NotEmpty(t, outcome.Packet.Subtasks[0].Findings)

	// Verdicts were persisted to the review record.
	review, err := store.ReadReview()
	require.NoError(t, err)
	assert.NotEmpty(t, review.Rounds)
}

func TestAbandonSetsTokenAndState(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{{ID: "a"}})
	c := New(store, okRunner(), approveAll(), approveAll())

	require.NoError(t, c.Abandon(context.Background(), "requirements changed"))

	assert.True(t, c.Token().Cancelled())
	assert.Equal(t, "requirements changed", c.Token().Reason())

	p, err := store.LoadPacket()
	require.NoError(t, err)
	assert.Equal(t, packet.StateAbandoned, p.State)
}

func TestAbandonRejectedForAcceptedPacket(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{{ID: "a"}})
	c := New(store, okRunner(), approveAll(), approveAll())

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	err = c.Abandon(context.Background(), "too late")
	require.Error(t, err)
}

func TestArchiveAfterAcceptance(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{{ID: "a", Spec: "work"}})
	db, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer db.Close()

	c := New(store, okRunner(), approveAll(), approveAll())
	c.Archive = db

	_, err = c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.ArchivePacket(context.Background()))

	p, err := store.LoadPacket()
	require.NoError(t, err)
	assert.Equal(t, packet.StateArchived, p.State)

	archived, err := db.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, packet.StateArchived, archived.State)
}

func TestMonitorWritesCheckpointsDuringDispatch(t *testing.T) {
	store := plannedStore(t, []packet.Subtask{{ID: "a", Spec: "slow work"}})

	runner := worker.RunnerFunc(func(ctx context.Context, spec worker.Spec) (*worker.Result, error) {
		time.Sleep(50 * time.Millisecond)
		return &worker.Result{SubtaskID: spec.SubtaskID, Success: true}, nil
	})

	c := New(store, runner, approveAll(), approveAll())
	c.MonitorOptions = []checkpoint.Option{
		checkpoint.WithInterval(10 * time.Millisecond),
		checkpoint.WithMaxIterations(100),
	}

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	writer, err := checkpoint.NewWriter(store.Dir())
	require.NoError(t, err)
	latest, err := writer.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest, "at least one checkpoint fired during dispatch")
	assert.Contains(t, latest.Note, "active")
}
