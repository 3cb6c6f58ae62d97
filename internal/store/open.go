package store

import (
	"context"
	"errors"
	"strings"

	"touchbase/internal/schedule"
	logx "touchbase/pkg/logx"
)

// Store is the persistence API used by the orchestrator, resolver, and fan-out.
type Store interface {
	// Read side (populated by the CRUD product or seeding).
	ListUsers(ctx context.Context) ([]string, error)
	ListGroups(ctx context.Context, userID string) ([]Group, error)
	ListSchedules(ctx context.Context, userID, groupID string) ([]ScheduleRecord, error)
	GetGroup(ctx context.Context, groupID string) (Group, error)
	GetContact(ctx context.Context, contactID string) (Contact, error)

	// MarkFired commits the idempotency marker for one schedule.
	// The write is conditional on version; a stale token yields ErrConflict.
	MarkFired(ctx context.Context, scheduleID string, version int64, day schedule.Date, at schedule.TimeOfDay) error

	// AppendIntent appends one delivery-intent record.
	AppendIntent(ctx context.Context, it Intent) error
	ListIntents(ctx context.Context, scheduleID string) ([]Intent, error)

	// Seeding/ops API, shared with the CRUD product.
	PutContact(ctx context.Context, c Contact) error
	PutGroup(ctx context.Context, g Group) error
	PutSchedule(ctx context.Context, userID, groupID string, s schedule.Schedule) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "":
		return nil, errors.New("storage driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
