package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"touchbase/internal/schedule"
	logx "touchbase/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.intents.jsonl        (append-only JSON Lines)
//   - <prefix>.state.snapshot.json  (contacts/groups/schedules snapshot)
//   - <prefix>.runs.journal.jsonl   (append-only idempotency-marker journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	intentsPath string
	intentsFile *os.File

	snapshotPath string
	journalPath  string
	journalFile  *os.File

	contacts map[string]Contact
	groups   map[string]Group
	scheds   map[string]*ScheduleRecord

	runWrites int
}

const compactEvery = 256

type fileSnapshot struct {
	Contacts  []Contact        `json:"contacts"`
	Groups    []Group          `json:"groups"`
	Schedules []ScheduleRecord `json:"schedules"`
}

// firedRecord journals one committed MarkFired. Version is the new token.
type firedRecord struct {
	ScheduleID  string `json:"schedule_id"`
	Version     int64  `json:"version"`
	LastRun     string `json:"last_run"`
	LastRunTime string `json:"last_run_time"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		intentsPath:  prefix + ".intents.jsonl",
		snapshotPath: prefix + ".state.snapshot.json",
		journalPath:  prefix + ".runs.journal.jsonl",
		contacts:     map[string]Contact{},
		groups:       map[string]Group{},
		scheds:       map[string]*ScheduleRecord{},
	}

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.replayJournal(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	af, err := os.OpenFile(s.intentsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.intentsFile = af
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.intentsFile != nil {
		err1 = s.intentsFile.Close()
		s.intentsFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// ---- read side ----

func (s *fileStore) ListUsers(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	users := make([]string, 0, 4)
	for _, g := range s.groups {
		if !seen[g.UserID] {
			seen[g.UserID] = true
			users = append(users, g.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *fileStore) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, 0, 4)
	for _, g := range s.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) ListSchedules(ctx context.Context, userID, groupID string) ([]ScheduleRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleRecord, 0, 4)
	for _, r := range s.scheds {
		if r.UserID == userID && r.GroupID == groupID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sched.ID < out[j].Sched.ID })
	return out, nil
}

func (s *fileStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (s *fileStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

// ---- idempotency marker ----

func (s *fileStore) MarkFired(ctx context.Context, scheduleID string, version int64, day schedule.Date, at schedule.TimeOfDay) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.scheds[scheduleID]
	if !ok {
		return ErrNotFound
	}
	if rec.Version != version {
		return ErrConflict
	}
	if s.journalFile == nil {
		return errors.New("runs journal closed")
	}

	// Journal first. Mutating the record before a failed write would leave
	// memory claiming a run the disk never saw: this tick would suppress the
	// promised retry and a restart would refire the occurrence.
	if err := json.NewEncoder(s.journalFile).Encode(firedRecord{
		ScheduleID:  scheduleID,
		Version:     rec.Version + 1,
		LastRun:     day.String(),
		LastRunTime: at.String(),
	}); err != nil {
		return err
	}

	rec.Version++
	d := day
	t := at
	rec.Sched.LastRun = &d
	rec.Sched.LastRunTime = &t
	s.runWrites++
	if s.runWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("runs journal compact failed", logx.Any("err", err))
		}
	}
	return nil
}

// ---- intents ----

func (s *fileStore) AppendIntent(ctx context.Context, it Intent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intentsFile == nil {
		return errors.New("intents file closed")
	}
	enc := json.NewEncoder(s.intentsFile)
	return enc.Encode(it)
}

func (s *fileStore) ListIntents(ctx context.Context, scheduleID string) ([]Intent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.intentsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Intent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var it Intent
		if err := json.Unmarshal(sc.Bytes(), &it); err != nil {
			continue
		}
		if scheduleID == "" || it.ScheduleID == scheduleID {
			out = append(out, it)
		}
	}
	return out, sc.Err()
}

// ---- seeding ----

func (s *fileStore) PutContact(ctx context.Context, c Contact) error {
	_ = ctx
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("contact id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
	return s.compactLocked()
}

func (s *fileStore) PutGroup(ctx context.Context, g Group) error {
	_ = ctx
	if strings.TrimSpace(g.ID) == "" || strings.TrimSpace(g.UserID) == "" {
		return errors.New("group id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return s.compactLocked()
}

func (s *fileStore) PutSchedule(ctx context.Context, userID, groupID string, sc schedule.Schedule) error {
	_ = ctx
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.scheds[sc.ID]; ok {
		// Keep version and marker across document updates.
		prev.UserID = userID
		prev.GroupID = groupID
		lastRun, lastRunTime := prev.Sched.LastRun, prev.Sched.LastRunTime
		prev.Sched = sc
		if sc.LastRun == nil {
			prev.Sched.LastRun = lastRun
			prev.Sched.LastRunTime = lastRunTime
		}
	} else {
		s.scheds[sc.ID] = &ScheduleRecord{UserID: userID, GroupID: groupID, Sched: sc}
	}
	return s.compactLocked()
}

// ---- snapshot / journal ----

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{}
	for _, c := range s.contacts {
		snap.Contacts = append(snap.Contacts, c)
	}
	for _, g := range s.groups {
		snap.Groups = append(snap.Groups, g)
	}
	for _, r := range s.scheds {
		snap.Schedules = append(snap.Schedules, *r)
	}
	sort.Slice(snap.Contacts, func(i, j int) bool { return snap.Contacts[i].ID < snap.Contacts[j].ID })
	sort.Slice(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Sched.ID < snap.Schedules[j].Sched.ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal: snapshot now covers everything.
	if s.journalFile != nil {
		if err := s.journalFile.Truncate(0); err != nil {
			return err
		}
		if _, err := s.journalFile.Seek(0, 2); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, c := range snap.Contacts {
		s.contacts[c.ID] = c
	}
	for _, g := range snap.Groups {
		s.groups[g.ID] = g
	}
	for _, r := range snap.Schedules {
		r := r
		s.scheds[r.Sched.ID] = &r
	}
	return nil
}

func (s *fileStore) replayJournal() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var fr firedRecord
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			continue
		}
		rec, ok := s.scheds[fr.ScheduleID]
		if !ok || fr.Version <= rec.Version {
			continue
		}
		day, err := schedule.ParseDate(fr.LastRun)
		if err != nil {
			continue
		}
		at, err := schedule.ParseTimeOfDay(fr.LastRunTime)
		if err != nil {
			continue
		}
		rec.Version = fr.Version
		rec.Sched.LastRun = &day
		rec.Sched.LastRunTime = &at
	}
	return sc.Err()
}
