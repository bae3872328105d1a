// Package checkpoint implements the liveness checkpoint monitor: a
// bounded-lifetime periodic timer that samples worker activity, writes
// checkpoint records, and requests respawns for stalled workers.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one checkpoint: a strictly increasing sequence number, a
// timestamp, and a free-text note. Written by the monitor, polled by
// the coordinator, never read by workers.
type Record struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Note      string    `json:"note"`
}

const (
	latestFile = "checkpoint.json"
	trailFile  = "checkpoints.log"
)

// Writer persists checkpoint records in a packet directory: the latest
// record overwrites checkpoint.json, and every record is appended to
// checkpoints.log.
type Writer struct {
	dir string
}

// NewWriter opens a checkpoint writer rooted at dir.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write persists a record, assigning it a ULID identity.
func (w *Writer) Write(rec *Record) error {
	if rec.ID == "" {
		rec.ID = "ckpt-" + ulid.Make().String()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.WriteFile(filepath.Join(w.dir, latestFile), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(w.dir, trailFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint trail: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n", data)
	return err
}

// Latest returns the most recent record, or nil if none exists.
func (w *Writer) Latest() (*Record, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &rec, nil
}

// Trail returns every record written, in order.
func (w *Writer) Trail() ([]Record, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, trailFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("decode checkpoint trail: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
