// Package graph exports the coordination graph (packets, subtasks,
// dependency edges, dispatch outcomes) to a Cypher-speaking database.
// The export is best-effort: an unreachable database degrades to a
// warning, never a failed dispatch.
package graph

import (
	"context"

	"github.com/foremanhq/foreman/internal/config"
)

// Record is a single result row from a query.
type Record map[string]any

// Reader provides read-only graph operations.
type Reader interface {
	// Execute runs a Cypher query and returns results.
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// Writer provides write graph operations.
type Writer interface {
	// ExecuteWrite runs a write query (CREATE, MERGE, SET, DELETE).
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}

// Driver is the full interface any Cypher-speaking backend implements.
type Driver interface {
	Reader
	Writer

	// Close releases database resources.
	Close() error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error
}

// Config holds graph database connection configuration.
type Config struct {
	URI      string
	Username string
	Password string
}

// DefaultConfig returns connection configuration from the environment.
func DefaultConfig() Config {
	env := config.Get()
	return Config{
		URI:      env.GraphURI,
		Username: env.GraphUser,
		Password: env.GraphPassword,
	}
}
