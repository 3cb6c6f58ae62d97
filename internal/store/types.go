package store

import (
	"errors"
	"time"

	"touchbase/internal/schedule"
)

var (
	// ErrNotFound is returned for a missing contact/group/schedule.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by MarkFired when the version token is stale,
	// i.e. someone else already fired this occurrence.
	ErrConflict = errors.New("version conflict")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + journal + jsonl)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Contact is a recipient record. Only the fields the engine needs.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Group references its member contacts by identifier, not by value.
// Membership is dereferenced at fan-out time, so edits show up next tick.
type Group struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	ContactIDs []string `json:"contact_ids"`
}

// ScheduleRecord is a schedule document plus its store scope and version token.
type ScheduleRecord struct {
	UserID  string            `json:"user_id"`
	GroupID string            `json:"group_id"`
	Version int64             `json:"version"`
	Sched   schedule.Schedule `json:"schedule"`
}

// IntentStatusScheduled is the status every intent record is created with.
// Downstream transport workers own all later transitions.
const IntentStatusScheduled = "scheduled"

// Intent is a delivery-intent record: a durable promise to send, not the send
// itself. Immutable once appended.
type Intent struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	GroupID    string    `json:"group_id"`
	ContactID  string    `json:"contact_id"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
