package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Health is the per-worker classification written by the checkpoint
// monitor.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthSlow    Health = "slow"
	HealthStuck   Health = "stuck"
	HealthBlocked Health = "blocked"
)

// Agent is the coordinator's record of one spawned worker. It lives
// for the duration of a single subtask.
type Agent struct {
	ID        string
	Role      Role
	SubtaskID string
	SpawnedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	blocker      string
	health       Health
}

// NewAgent creates an agent record with a fresh ULID identity.
func NewAgent(role Role, subtaskID string) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:           "agent-" + ulid.Make().String(),
		Role:         role,
		SubtaskID:    subtaskID,
		SpawnedAt:    now,
		lastActivity: now,
		health:       HealthHealthy,
	}
}

// Touch records worker activity.
func (a *Agent) Touch() {
	a.mu.Lock()
	a.lastActivity = time.Now().UTC()
	a.mu.Unlock()
}

// TouchAt records activity at a specific time (for testing).
func (a *Agent) TouchAt(t time.Time) {
	a.mu.Lock()
	a.lastActivity = t
	a.mu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (a *Agent) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// DeclareBlocker records an explicit blocker logged by the worker.
func (a *Agent) DeclareBlocker(reason string) {
	a.mu.Lock()
	a.blocker = reason
	a.lastActivity = time.Now().UTC()
	a.mu.Unlock()
}

// ClearBlocker removes a declared blocker.
func (a *Agent) ClearBlocker() {
	a.mu.Lock()
	a.blocker = ""
	a.mu.Unlock()
}

// Blocker returns the declared blocker, if any.
func (a *Agent) Blocker() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocker
}

// SetHealth stores the monitor's classification.
func (a *Agent) SetHealth(h Health) {
	a.mu.Lock()
	a.health = h
	a.mu.Unlock()
}

// Health returns the last classification.
func (a *Agent) Health() Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// Roster tracks the currently active agents. The dispatcher adds and
// removes; the checkpoint monitor and status command read.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{agents: make(map[string]*Agent)}
}

// Add registers an agent.
func (r *Roster) Add(a *Agent) {
	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()
}

// Remove unregisters an agent on completion, failure, or respawn.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	delete(r.agents, id)
	r.mu.Unlock()
}

// Get returns an agent by ID, or nil.
func (r *Roster) Get(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// List returns active agents sorted by ID (deterministic).
func (r *Roster) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active agents.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
