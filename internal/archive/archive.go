// Package archive persists terminal packets to SQLite. Archival is the
// final lifecycle step: once a packet lands here its record is
// immutable history, queried but never rewritten.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/foremanhq/foreman/internal/packet"
)

// Archive is the SQLite-backed packet archive.
type Archive struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the archive database at dbPath.
func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db, path: dbPath}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS packets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		subtask_count INTEGER NOT NULL DEFAULT 0,
		gate_rounds INTEGER NOT NULL DEFAULT 0,
		contract TEXT,
		packet_json TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		archived_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packets_archived ON packets(archived_at DESC);
	CREATE INDEX IF NOT EXISTS idx_packets_state ON packets(state);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT NOT NULL,
		packet_id TEXT NOT NULL,
		spec TEXT,
		exec TEXT NOT NULL,
		worker_id TEXT,
		findings INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (packet_id, id),
		FOREIGN KEY (packet_id) REFERENCES packets(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_subtasks_packet ON subtasks(packet_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close releases the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Put archives a packet. Only terminal packets (ARCHIVED, ABANDONED)
// belong here; the caller advances the state machine first.
func (a *Archive) Put(ctx context.Context, p *packet.TaskPacket) error {
	if !p.State.Terminal() {
		return fmt.Errorf("packet %s is %s, not terminal", p.ID, p.State)
	}

	full, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO packets
			(id, title, state, accepted, subtask_count, gate_rounds, contract, packet_json, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, string(p.State), boolToInt(p.Accepted), len(p.Subtasks),
		len(p.Review.Rounds), p.Contract, string(full), p.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert packet: %w", err)
	}

	for _, st := range p.Subtasks {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO subtasks (id, packet_id, spec, exec, worker_id, findings)
			VALUES (?, ?, ?, ?, ?, ?)
		`, st.ID, p.ID, st.Spec, string(st.Exec), st.WorkerID, len(st.Findings))
		if err != nil {
			return fmt.Errorf("insert subtask %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

// Get retrieves an archived packet by ID.
func (a *Archive) Get(ctx context.Context, id string) (*packet.TaskPacket, error) {
	var full string
	err := a.db.QueryRowContext(ctx,
		`SELECT packet_json FROM packets WHERE id = ?`, id).Scan(&full)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("packet %s not archived", id)
	}
	if err != nil {
		return nil, err
	}

	var p packet.TaskPacket
	if err := json.Unmarshal([]byte(full), &p); err != nil {
		return nil, fmt.Errorf("unmarshal packet: %w", err)
	}
	return &p, nil
}

// Summary is one row of the archive listing.
type Summary struct {
	ID           string
	Title        string
	State        packet.State
	Accepted     bool
	SubtaskCount int
	GateRounds   int
	ArchivedAt   time.Time
}

// List returns archived packets, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, state, accepted, subtask_count, gate_rounds, archived_at
		FROM packets ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var state string
		var accepted int
		if err := rows.Scan(&s.ID, &s.Title, &state, &accepted, &s.SubtaskCount, &s.GateRounds, &s.ArchivedAt); err != nil {
			return nil, err
		}
		s.State = packet.State(state)
		s.Accepted = accepted != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats summarizes the archive for the status command.
type Stats struct {
	Total     int
	Accepted  int
	Abandoned int
}

// GetStats returns archive-wide counts.
func (a *Archive) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(accepted), 0),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM packets`, string(packet.StateAbandoned)).Scan(&s.Total, &s.Accepted, &s.Abandoned)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
