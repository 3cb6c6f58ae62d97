package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"touchbase/internal/schedule"
	logx "touchbase/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- read side ----

func (s *sqliteStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM groups ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, contact_ids FROM groups WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, contact_ids FROM groups WHERE id = ?`, groupID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	return g, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(r rowScanner) (Group, error) {
	var g Group
	var ids string
	if err := r.Scan(&g.ID, &g.UserID, &g.Name, &ids); err != nil {
		return Group{}, err
	}
	if err := json.Unmarshal([]byte(ids), &g.ContactIDs); err != nil {
		return Group{}, fmt.Errorf("group %s: bad contact_ids: %w", g.ID, err)
	}
	return g, nil
}

func (s *sqliteStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	var c Contact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM contacts WHERE id = ?`, contactID).Scan(&c.ID, &c.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context, userID, groupID string) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, group_id, doc, version, last_run, last_run_time
		 FROM schedules WHERE user_id = ? AND group_id = ? ORDER BY id`, userID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		var doc string
		var lastRun, lastRunTime sql.NullString
		if err := rows.Scan(&rec.UserID, &rec.GroupID, &doc, &rec.Version, &lastRun, &lastRunTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(doc), &rec.Sched); err != nil {
			// A corrupt document must not abort the scan; the evaluator
			// would fail it closed anyway, but we can't even identify it.
			s.log.Warn("skipping undecodable schedule doc", logx.String("user", rec.UserID), logx.String("group", rec.GroupID), logx.Err(err))
			continue
		}
		// Marker columns are authoritative over whatever the doc carries.
		overlayMarker(&rec.Sched, lastRun, lastRunTime)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func overlayMarker(sc *schedule.Schedule, lastRun, lastRunTime sql.NullString) {
	sc.LastRun = nil
	sc.LastRunTime = nil
	if lastRun.Valid && strings.TrimSpace(lastRun.String) != "" {
		if d, err := schedule.ParseDate(lastRun.String); err == nil {
			sc.LastRun = &d
		}
	}
	if lastRunTime.Valid && strings.TrimSpace(lastRunTime.String) != "" {
		if t, err := schedule.ParseTimeOfDay(lastRunTime.String); err == nil {
			sc.LastRunTime = &t
		}
	}
}

// ---- idempotency marker ----

func (s *sqliteStore) MarkFired(ctx context.Context, scheduleID string, version int64, day schedule.Date, at schedule.TimeOfDay) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = ?, last_run_time = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		day.String(), at.String(), scheduleID, version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, scheduleID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// ---- intents ----

func (s *sqliteStore) AppendIntent(ctx context.Context, it Intent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intents(id, schedule_id, group_id, contact_id, message, status, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		it.ID, it.ScheduleID, it.GroupID, it.ContactID, it.Message, it.Status,
		it.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) ListIntents(ctx context.Context, scheduleID string) ([]Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, group_id, contact_id, message, status, created_at
		 FROM intents WHERE schedule_id = ? OR ? = '' ORDER BY created_at`, scheduleID, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		var it Intent
		var created string
		if err := rows.Scan(&it.ID, &it.ScheduleID, &it.GroupID, &it.ContactID, &it.Message, &it.Status, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			it.CreatedAt = t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ---- seeding ----

func (s *sqliteStore) PutContact(ctx context.Context, c Contact) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("contact id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(id, display_name) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name`,
		c.ID, c.DisplayName)
	return err
}

func (s *sqliteStore) PutGroup(ctx context.Context, g Group) error {
	if strings.TrimSpace(g.ID) == "" || strings.TrimSpace(g.UserID) == "" {
		return errors.New("group id and user id are required")
	}
	ids, err := json.Marshal(g.ContactIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups(id, user_id, name, contact_ids) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, name=excluded.name, contact_ids=excluded.contact_ids`,
		g.ID, g.UserID, g.Name, string(ids))
	return err
}

func (s *sqliteStore) PutSchedule(ctx context.Context, userID, groupID string, sc schedule.Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	// Version and marker survive document updates; only the doc is replaced.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, user_id, group_id, doc, version) VALUES(?,?,?,?,0)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, group_id=excluded.group_id, doc=excluded.doc`,
		sc.ID, userID, groupID, string(doc))
	return err
}
