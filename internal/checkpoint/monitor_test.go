package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foremanhq/foreman/internal/metrics"
	"github.com/foremanhq/foreman/internal/packet"
	"github.com/foremanhq/foreman/internal/worker"
)

// feedOf returns an Activity feed over a fixed entry list.
func feedOf(entries ...packet.ActivityEntry) func(int) []packet.ActivityEntry {
	return func(sinceSeq int) []packet.ActivityEntry {
		var out []packet.ActivityEntry
		for _, e := range entries {
			if e.Seq > sinceSeq {
				out = append(out, e)
			}
		}
		return out
	}
}

func TestClassify(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name    string
		idle    time.Duration
		blocker string
		want    worker.Health
	}{
		{"recent activity", 30 * time.Second, "", worker.HealthHealthy},
		{"boundary healthy", 2 * time.Minute, "", worker.HealthHealthy},
		{"slow", 5 * time.Minute, "", worker.HealthSlow},
		{"boundary slow", 10 * time.Minute, "", worker.HealthSlow},
		{"stuck", 11 * time.Minute, "", worker.HealthStuck},
		{"idle but blocked", 30 * time.Minute, "waiting on design call", worker.HealthBlocked},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(now.Add(-c.idle), c.blocker, now)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestRunWritesExactlyMaxIterations(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	m := New(roster, writer,
		WithInterval(5*time.Millisecond),
		WithMaxIterations(4),
	)

	err = m.Run(context.Background())
	require.NoError(t, err, "normal exhaustion is a clean exit")

	trail, err := writer.Trail()
	require.NoError(t, err)
	require.Len(t, trail, 4)

	// Sequence numbers are strictly increasing from 1.
	for i, rec := range trail {
		assert.Equal(t, i+1, rec.Seq)
	}

	latest, err := writer.Latest()
	require.NoError(t, err)
	assert.Equal(t, 4, latest.Seq)
}

func TestRunHonorsContext(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(worker.NewRoster(), writer, WithInterval(time.Hour))
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}

func TestStuckWorkerGetsGuidanceThenRespawn(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-20 * time.Minute))
	roster.Add(agent)

	var guidance []string
	var respawns []RespawnRequest

	m := New(roster, writer)
	m.OnGuidance = func(a *worker.Agent, msg string) { guidance = append(guidance, msg) }
	m.OnRespawn = func(req RespawnRequest) { respawns = append(respawns, req) }

	// First checkpoint: STUCK, guidance only.
	require.NoError(t, m.Sample())
	assert.Equal(t, worker.HealthStuck, agent.Health())
	assert.Len(t, guidance, 1)
	assert.Empty(t, respawns)

	// Second consecutive STUCK checkpoint: respawn requested.
	require.NoError(t, m.Sample())
	require.Len(t, respawns, 1)
	assert.Equal(t, agent.ID, respawns[0].AgentID)
	assert.Equal(t, "sub-a", respawns[0].SubtaskID)
}

func TestStuckStreakResetsOnActivity(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-20 * time.Minute))
	roster.Add(agent)

	var respawns []RespawnRequest
	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}
	m.OnRespawn = func(req RespawnRequest) { respawns = append(respawns, req) }

	require.NoError(t, m.Sample()) // STUCK once

	agent.Touch() // worker makes progress
	require.NoError(t, m.Sample()) // HEALTHY, streak resets

	agent.TouchAt(time.Now().Add(-20 * time.Minute))
	require.NoError(t, m.Sample()) // STUCK again, streak is 1

	assert.Empty(t, respawns, "non-consecutive stuck checkpoints must not respawn")
}

func TestBlockedWorkerGetsGuidanceNotRespawn(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleTester, "sub-b")
	agent.TouchAt(time.Now().Add(-30 * time.Minute))
	agent.DeclareBlocker("schema decision pending")
	agent.TouchAt(time.Now().Add(-30 * time.Minute))
	roster.Add(agent)

	var guidance []string
	var respawns []RespawnRequest
	m := New(roster, writer)
	m.OnGuidance = func(a *worker.Agent, msg string) { guidance = append(guidance, msg) }
	m.OnRespawn = func(req RespawnRequest) { respawns = append(respawns, req) }

	require.NoError(t, m.Sample())
	require.NoError(t, m.Sample())
	require.NoError(t, m.Sample())

	assert.Equal(t, worker.HealthBlocked, agent.Health())
	assert.Len(t, guidance, 3, "blocked workers are nudged every checkpoint")
	assert.Empty(t, respawns, "declared blockers never trigger respawn")
}

func TestActivityLogEntryCountsAsLiveness(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-11 * time.Minute)) // spawned long ago, still working
	roster.Add(agent)

	var respawns []RespawnRequest
	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}
	m.OnRespawn = func(req RespawnRequest) { respawns = append(respawns, req) }
	// The worker logs under its own name; the monitor only knows the
	// subtask, so matching falls back to the entry's subtask field.
	m.Activity = feedOf(packet.ActivityEntry{
		Seq: 1, Timestamp: time.Now(), Actor: "ext-worker-1", Subtask: "sub-a",
		Note: "progress: step 3 of 7 done",
	})

	require.NoError(t, m.Sample())
	assert.Equal(t, worker.HealthHealthy, agent.Health(), "a logged progress note is worker activity")

	require.NoError(t, m.Sample())
	assert.Empty(t, respawns, "a worker that logs progress is never respawned")
}

func TestBlockerNoteClassifiesBlocked(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-30 * time.Minute))
	roster.Add(agent)

	var respawns []RespawnRequest
	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}
	m.OnRespawn = func(req RespawnRequest) { respawns = append(respawns, req) }
	m.Activity = feedOf(packet.ActivityEntry{
		Seq: 1, Timestamp: time.Now(), Actor: agent.ID, Subtask: "sub-a",
		Note: "blocker: waiting on schema decision",
	})

	require.NoError(t, m.Sample())
	require.NoError(t, m.Sample())

	assert.Equal(t, worker.HealthBlocked, agent.Health())
	assert.Equal(t, "waiting on schema decision", agent.Blocker())
	assert.Empty(t, respawns, "declared blockers never trigger respawn")
}

func TestCoordinationNotesAreNotWorkerActivity(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-20 * time.Minute))
	roster.Add(agent)

	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}
	m.Activity = feedOf(packet.ActivityEntry{
		Seq: 1, Timestamp: time.Now(), Actor: "monitor", Subtask: "sub-a",
		Note: "guidance: decompose the current work",
	})

	require.NoError(t, m.Sample())
	assert.Equal(t, worker.HealthStuck, agent.Health(), "the monitor's own notes must not reset liveness")
}

func TestStaleEntriesDoNotAgeFreshAgents(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a") // just spawned
	roster.Add(agent)

	m := New(roster, writer)
	m.Activity = feedOf(packet.ActivityEntry{
		Seq: 1, Timestamp: time.Now().Add(-1 * time.Hour), Actor: "ext-worker-1", Subtask: "sub-a",
		Note: "progress from an earlier attempt",
	})

	require.NoError(t, m.Sample())
	assert.Equal(t, worker.HealthHealthy, agent.Health(), "liveness only moves forward")
}

func TestSampleRecordsMetrics(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	agent := worker.NewAgent(worker.RoleEngineer, "sub-a")
	agent.TouchAt(time.Now().Add(-20 * time.Minute))
	roster.Add(agent)

	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}

	checkpointsBefore := metrics.Global().Checkpoints.Load()
	stuckBefore := metrics.Global().StuckObserved.Load()

	require.NoError(t, m.Sample())

	assert.Equal(t, checkpointsBefore+1, metrics.Global().Checkpoints.Load())
	assert.Equal(t, stuckBefore+1, metrics.Global().StuckObserved.Load())
}

func TestCheckpointNoteSummarizesRoster(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	roster := worker.NewRoster()
	healthy := worker.NewAgent(worker.RoleEngineer, "sub-a")
	roster.Add(healthy)
	slow := worker.NewAgent(worker.RoleEngineer, "sub-b")
	slow.TouchAt(time.Now().Add(-5 * time.Minute))
	roster.Add(slow)

	m := New(roster, writer)
	m.OnGuidance = func(*worker.Agent, string) {}
	require.NoError(t, m.Sample())

	latest, err := writer.Latest()
	require.NoError(t, err)
	assert.Contains(t, latest.Note, "2 active")
	assert.Contains(t, latest.Note, "1 healthy")
	assert.Contains(t, latest.Note, "1 slow")
}

func TestWriterTrailAndLatest(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	none, err := writer.Latest()
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, writer.Write(&Record{Seq: 1, Timestamp: time.Now(), Note: "first"}))
	require.NoError(t, writer.Write(&Record{Seq: 2, Timestamp: time.Now(), Note: "second"}))

	latest, err := writer.Latest()
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Seq)
	assert.NotEmpty(t, latest.ID)

	trail, err := writer.Trail()
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}
