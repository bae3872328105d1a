package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	Reset()

	t.Setenv("FOREMAN_HOME", "/tmp/foreman-test")
	t.Setenv("FOREMAN_PACKET_DIR", "/tmp/packet-1")
	t.Setenv("FOREMAN_SESSION_ID", "sess-123")
	t.Setenv("FOREMAN_WORKER_CAP", "3")
	defer Reset()

	env := Get()

	assert.Equal(t, "/tmp/foreman-test", env.Home)
	assert.Equal(t, "/tmp/packet-1", env.PacketDir)
	assert.Equal(t, "sess-123", env.SessionID)
	assert.Equal(t, 3, env.WorkerCap)
}

func TestGetDefaults(t *testing.T) {
	Reset()

	t.Setenv("FOREMAN_HOME", "/tmp/foreman-test")
	t.Setenv("FOREMAN_WORKER_CAP", "")
	t.Setenv("FOREMAN_NEO4J_URI", "")
	defer Reset()

	env := Get()

	assert.Equal(t, DefaultWorkerCap, env.WorkerCap)
	assert.Equal(t, "bolt://localhost:7687", env.GraphURI)
}

func TestWorkerCapCeiling(t *testing.T) {
	Reset()

	// A cap above the hard ceiling is clamped back down.
	t.Setenv("FOREMAN_WORKER_CAP", "12")
	defer Reset()

	env := Get()
	assert.Equal(t, DefaultWorkerCap, env.WorkerCap)
}

func TestGetSingleton(t *testing.T) {
	Reset()
	defer Reset()

	env1 := Get()
	env2 := Get()

	assert.Same(t, env1, env2)
}

func TestGetPaths(t *testing.T) {
	Reset()

	t.Setenv("FOREMAN_HOME", "/tmp/foreman-paths")
	defer Reset()

	p := GetPaths()

	assert.Equal(t, "/tmp/foreman-paths", p.Home)
	assert.Equal(t, filepath.Join("/tmp/foreman-paths", "archive.db"), p.Archive)
	assert.Equal(t, filepath.Join("/tmp/foreman-paths", "packets"), p.Packets)
}

func TestEnsureHome(t *testing.T) {
	Reset()

	t.Setenv("FOREMAN_HOME", t.TempDir())
	defer Reset()

	p, err := EnsureHome()
	assert.NoError(t, err)
	assert.DirExists(t, p.Packets)
}
