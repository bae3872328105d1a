// Package config provides centralized configuration management.
// All FOREMAN_* environment lookups live here instead of being
// scattered across the coordinator packages.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultWorkerCap is the hard ceiling on concurrently dispatched workers.
const DefaultWorkerCap = 5

// Env holds all foreman environment variables.
type Env struct {
	// Home is the foreman home directory (FOREMAN_HOME, default ~/.foreman)
	Home string

	// PacketDir is the active task packet directory (FOREMAN_PACKET_DIR)
	PacketDir string

	// SessionID is the current coordinator session (FOREMAN_SESSION_ID)
	SessionID string

	// WorkerCap bounds concurrent workers per layer (FOREMAN_WORKER_CAP)
	WorkerCap int

	// MetricsAddr is the optional metrics listen address (FOREMAN_METRICS_ADDR)
	MetricsAddr string

	// GraphURI is the graph database URI (FOREMAN_NEO4J_URI)
	GraphURI string

	// GraphUser is the graph database user (FOREMAN_NEO4J_USER)
	GraphUser string

	// GraphPassword is the graph database password (FOREMAN_NEO4J_PASSWORD)
	GraphPassword string
}

var (
	env     *Env
	envOnce sync.Once
)

// Get returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Get() *Env {
	envOnce.Do(func() {
		env = &Env{
			Home:          getEnvDefault("FOREMAN_HOME", defaultHome()),
			PacketDir:     os.Getenv("FOREMAN_PACKET_DIR"),
			SessionID:     os.Getenv("FOREMAN_SESSION_ID"),
			WorkerCap:     getEnvInt("FOREMAN_WORKER_CAP", DefaultWorkerCap),
			MetricsAddr:   os.Getenv("FOREMAN_METRICS_ADDR"),
			GraphURI:      getEnvDefault("FOREMAN_NEO4J_URI", "bolt://localhost:7687"),
			GraphUser:     os.Getenv("FOREMAN_NEO4J_USER"),
			GraphPassword: os.Getenv("FOREMAN_NEO4J_PASSWORD"),
		}
		if env.WorkerCap <= 0 || env.WorkerCap > DefaultWorkerCap {
			env.WorkerCap = DefaultWorkerCap
		}
	})
	return env
}

// Reset clears the cached environment (for testing).
func Reset() {
	envOnce = sync.Once{}
	env = nil
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foreman"
	}
	return filepath.Join(home, ".foreman")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Paths holds the standard foreman directory layout.
type Paths struct {
	// Home is the foreman home directory
	Home string

	// Archive is the SQLite archive location
	Archive string

	// Packets is the default parent directory for packet dirs
	Packets string
}

// GetPaths returns the standard paths rooted at the configured home.
func GetPaths() Paths {
	home := Get().Home
	return Paths{
		Home:    home,
		Archive: filepath.Join(home, "archive.db"),
		Packets: filepath.Join(home, "packets"),
	}
}

// EnsureHome creates the foreman home directory tree if missing.
func EnsureHome() (Paths, error) {
	p := GetPaths()
	if err := os.MkdirAll(p.Packets, 0o755); err != nil {
		return p, err
	}
	return p, nil
}
