package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store is the file-based packet store: the wire format between the
// coordinator and external worker collaborators. Each record lives in
// its own file so collaborators can read or write one without touching
// the others.
//
//	packet.json      identity and lifecycle state
//	contract.md      free-text contract
//	plan.json        plan text plus the subtask set
//	activity.log     append-only JSON lines
//	review.json      accumulated gate verdicts
//	acceptance.json  acceptance record
type Store struct {
	dir string
}

// ErrNoPacket indicates the directory holds no packet record.
var ErrNoPacket = errors.New("no packet record")

const (
	packetFile     = "packet.json"
	contractFile   = "contract.md"
	planFile       = "plan.json"
	activityFile   = "activity.log"
	reviewFile     = "review.json"
	acceptanceFile = "acceptance.json"
)

// NewStore opens a packet store rooted at dir, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create packet dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the packet directory.
func (s *Store) Dir() string { return s.dir }

// path joins a record file name onto the packet directory.
func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// planRecord is the on-disk shape of the plan record.
type planRecord struct {
	Plan     string    `json:"plan"`
	Subtasks []Subtask `json:"subtasks,omitempty"`
}

// acceptanceRecord is the on-disk shape of the acceptance record.
type acceptanceRecord struct {
	Accepted   bool      `json:"accepted"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// SavePacket writes the identity/state record.
func (s *Store) SavePacket(p *TaskPacket) error {
	p.UpdatedAt = time.Now().UTC()
	return s.writeJSON(packetFile, p)
}

// LoadPacket reads the identity/state record along with every other
// record that exists, reassembling the full packet.
func (s *Store) LoadPacket() (*TaskPacket, error) {
	var p TaskPacket
	if err := s.readJSON(packetFile, &p); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoPacket
		}
		return nil, err
	}

	if contract, err := s.ReadContract(); err == nil {
		p.Contract = contract
	}
	if plan, subs, err := s.ReadPlan(); err == nil {
		p.Plan = plan
		p.Subtasks = subs
	}
	if entries, err := s.ReadActivity(); err == nil {
		p.Activity = entries
	}
	if review, err := s.ReadReview(); err == nil {
		p.Review = *review
	}
	if accepted, _, err := s.ReadAcceptance(); err == nil {
		p.Accepted = accepted
	}
	return &p, nil
}

// WriteContract stores the free-text contract record.
func (s *Store) WriteContract(contract string) error {
	return os.WriteFile(s.path(contractFile), []byte(contract), 0o644)
}

// ReadContract returns the contract record.
func (s *Store) ReadContract() (string, error) {
	data, err := os.ReadFile(s.path(contractFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WritePlan stores the plan record: free-text plan plus the subtask set.
func (s *Store) WritePlan(plan string, subtasks []Subtask) error {
	return s.writeJSON(planFile, planRecord{Plan: plan, Subtasks: subtasks})
}

// ReadPlan returns the plan record.
func (s *Store) ReadPlan() (string, []Subtask, error) {
	var rec planRecord
	if err := s.readJSON(planFile, &rec); err != nil {
		return "", nil, err
	}
	return rec.Plan, rec.Subtasks, nil
}

// AppendActivity appends one entry to the activity log. History is
// never rewritten; the sequence number is assigned here.
func (s *Store) AppendActivity(actor, subtask, note string) (*ActivityEntry, error) {
	existing, err := s.ReadActivity()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	entry := ActivityEntry{
		Seq:       len(existing) + 1,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Subtask:   subtask,
		Note:      note,
	}

	f, err := os.OpenFile(s.path(activityFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReadActivity returns the full activity log in append order.
func (s *Store) ReadActivity() ([]ActivityEntry, error) {
	data, err := os.ReadFile(s.path(activityFile))
	if err != nil {
		return nil, err
	}

	var entries []ActivityEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e ActivityEntry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("decode activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteReview stores the review record.
func (s *Store) WriteReview(review *ReviewRecord) error {
	return s.writeJSON(reviewFile, review)
}

// ReadReview returns the review record.
func (s *Store) ReadReview() (*ReviewRecord, error) {
	var rec ReviewRecord
	if err := s.readJSON(reviewFile, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// WriteAcceptance stores the acceptance record.
func (s *Store) WriteAcceptance(accepted bool, note string) error {
	rec := acceptanceRecord{Accepted: accepted, Note: note}
	if accepted {
		rec.AcceptedAt = time.Now().UTC()
	}
	return s.writeJSON(acceptanceFile, rec)
}

// ReadAcceptance returns the acceptance record.
func (s *Store) ReadAcceptance() (bool, string, error) {
	var rec acceptanceRecord
	if err := s.readJSON(acceptanceFile, &rec); err != nil {
		return false, "", err
	}
	return rec.Accepted, rec.Note, nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return os.WriteFile(s.path(name), data, 0o644)
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
