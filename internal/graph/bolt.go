package graph

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Bolt implements Driver over the bolt protocol (Neo4j, Memgraph).
type Bolt struct {
	driver neo4j.DriverWithContext
	config Config
}

// NewBolt creates a bolt driver from the given configuration.
func NewBolt(cfg Config) (*Bolt, error) {
	var auth neo4j.AuthToken
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create bolt driver: %w", err)
	}

	return &Bolt{driver: driver, config: cfg}, nil
}

// Execute runs a read query and returns results.
func (b *Bolt) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode: neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var records []Record
	for result.Next(ctx) {
		rec := result.Record()
		record := make(Record)
		for _, key := range rec.Keys {
			val, _ := rec.Get(key)
			record[key] = val
		}
		records = append(records, record)
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}

	return records, nil
}

// ExecuteWrite runs a write query.
func (b *Bolt) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode: neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("write query failed: %w", err)
	}

	return nil
}

// Close releases the database driver.
func (b *Bolt) Close() error {
	return b.driver.Close(context.Background())
}

// Ping checks database connectivity.
func (b *Bolt) Ping(ctx context.Context) error {
	return b.driver.VerifyConnectivity(ctx)
}

// Connect creates a bolt driver with configuration from the environment.
func Connect() (*Bolt, error) {
	return NewBolt(DefaultConfig())
}

// Open connects to the configured database and verifies it is
// reachable. It returns nil when no URI is configured or the ping
// fails: callers treat a nil driver as "no graph export" rather than
// an error, so CLI runs without a database stay quiet.
func Open(ctx context.Context, cfg Config) Driver {
	if cfg.URI == "" {
		return nil
	}
	b, err := NewBolt(cfg)
	if err != nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		b.Close()
		return nil
	}
	return b
}

// ConnectWithRetry tries to connect with exponential backoff.
// Returns nil if all retries fail: the coordination run proceeds
// without a graph export rather than failing outright.
func ConnectWithRetry(maxRetries int) *Bolt {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		b, err := Connect()
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			pingErr := b.Ping(ctx)
			cancel()
			if pingErr == nil {
				return b
			}
			b.Close()
			lastErr = pingErr
		} else {
			lastErr = err
		}
		// 100ms, 200ms, 400ms...
		time.Sleep(time.Duration(100<<i) * time.Millisecond)
	}
	if lastErr != nil {
		fmt.Fprintf(os.Stderr, "⚠ graph database unavailable: %v (continuing without export)\n", lastErr)
	}
	return nil
}

// IsConnectionError checks if an error is connection-related.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
