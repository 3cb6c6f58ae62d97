package tick

import (
	"context"
	"errors"
	"testing"
	"time"

	"touchbase/internal/eventbus"
	"touchbase/internal/fanout"
	"touchbase/internal/resolver"
	"touchbase/internal/schedule"
	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

type engine struct {
	st store.Store
	tk *Service
}

// newEngine wires a real file store, resolver, and fan-out pool behind the
// orchestrator. wrap lets a test interpose on the store.
func newEngine(t *testing.T, bus eventbus.Bus, wrap func(store.Store) store.Store) *engine {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: t.TempDir() + "/touchbase"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eff := st
	if wrap != nil {
		eff = wrap(st)
	}
	res := resolver.NewStoreResolver(eff, logx.Nop())
	fo := fanout.New(fanout.Config{Workers: 2, RatePerSec: 1000}, eff, res, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	fo.Start(ctx)
	t.Cleanup(func() {
		fo.Stop(context.Background())
		cancel()
	})

	tk := New(Config{Enabled: true, HistorySize: 4}, eff, fo, logx.Nop(), bus)
	return &engine{st: st, tk: tk}
}

func seed(t *testing.T, st store.Store, contacts int, sched schedule.Schedule) {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, contacts)
	for i := 0; i < contacts; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		if err := st.PutContact(ctx, store.Contact{ID: id, DisplayName: "c-" + id}); err != nil {
			t.Fatalf("PutContact: %v", err)
		}
	}
	if err := st.PutGroup(ctx, store.Group{ID: "g1", UserID: "u1", Name: "team", ContactIDs: ids}); err != nil {
		t.Fatalf("PutGroup: %v", err)
	}
	if err := st.PutSchedule(ctx, "u1", "g1", sched); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}
}

func dailySchedule(id string) schedule.Schedule {
	st := schedule.TimeOfDay{Hour: 9}
	return schedule.Schedule{
		ID:        id,
		Type:      schedule.TypeRecurring,
		Message:   "standup",
		StartDate: schedule.Date{Year: 2026, Month: time.January, Day: 1},
		StartTime: &st,
		Frequency: &schedule.Frequency{Kind: schedule.Daily, Interval: 1},
		Enabled:   true,
	}
}

var (
	testDay = schedule.Date{Year: 2026, Month: time.March, Day: 2}
	testAt  = schedule.TimeOfDay{Hour: 9, Minute: 0}
)

func TestTickFiresAndIsIdempotent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	e := newEngine(t, bus, nil)
	seed(t, e.st, 2, dailySchedule("s1"))
	ctx := context.Background()

	sum, err := e.tk.runAt(ctx, testDay, testAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sum.Scanned != 1 || sum.Due != 1 || sum.Fired != 1 || sum.Intents != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	intents, err := e.st.ListIntents(ctx, "s1")
	if err != nil || len(intents) != 2 {
		t.Fatalf("intents = %d, %v", len(intents), err)
	}

	var fired *FiredEvent
	deadline := time.After(2 * time.Second)
	for fired == nil {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeScheduleFired {
				fe := ev.Data.(FiredEvent)
				fired = &fe
			}
		case <-deadline:
			t.Fatal("schedule.fired event never published")
		}
	}
	if fired.ScheduleID != "s1" || fired.Intents != 2 || fired.Day != testDay.String() {
		t.Fatalf("event = %+v", fired)
	}

	// Same occurrence again: the marker guards the whole day.
	sum2, err := e.tk.runAt(ctx, testDay, testAt)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if sum2.Due != 0 || sum2.Fired != 0 {
		t.Fatalf("second tick summary = %+v, want no-op", sum2)
	}
	intents, _ = e.st.ListIntents(ctx, "s1")
	if len(intents) != 2 {
		t.Fatalf("intents after rerun = %d, want 2", len(intents))
	}
}

func TestTickEmptyGroupStillAdvancesMarker(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, nil)
	seed(t, e.st, 0, dailySchedule("s1"))
	ctx := context.Background()

	sum, err := e.tk.runAt(ctx, testDay, testAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sum.Fired != 1 || sum.Intents != 0 {
		t.Fatalf("summary = %+v, want fired no-op", sum)
	}

	sum2, _ := e.tk.runAt(ctx, testDay, testAt)
	if sum2.Due != 0 {
		t.Fatalf("empty group must not be retried the same day: %+v", sum2)
	}
}

func TestTickSkipsDisabledAndBlank(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, nil)

	disabled := dailySchedule("off")
	disabled.Enabled = false
	seed(t, e.st, 1, disabled)

	blank := dailySchedule("blank")
	blank.Message = "   "
	if err := e.st.PutSchedule(context.Background(), "u1", "g1", blank); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	sum, err := e.tk.runAt(context.Background(), testDay, testAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sum.Scanned != 2 || sum.Due != 0 || sum.Fired != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

// groupFailStore makes one group unresolvable at fan-out time.
type groupFailStore struct {
	store.Store
	failGroup string
}

func (g *groupFailStore) GetGroup(ctx context.Context, id string) (store.Group, error) {
	if id == g.failGroup {
		return store.Group{}, errors.New("backend unavailable")
	}
	return g.Store.GetGroup(ctx, id)
}

func TestTickFailureIsolation(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, func(st store.Store) store.Store {
		return &groupFailStore{Store: st, failGroup: "g-bad"}
	})
	ctx := context.Background()

	seed(t, e.st, 1, dailySchedule("s-ok"))
	if err := e.st.PutGroup(ctx, store.Group{ID: "g-bad", UserID: "u1", ContactIDs: []string{"a"}}); err != nil {
		t.Fatalf("PutGroup: %v", err)
	}
	if err := e.st.PutSchedule(ctx, "u1", "g-bad", dailySchedule("s-bad")); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	sum, err := e.tk.runAt(ctx, testDay, testAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	// The broken group is a hard failure; the healthy schedule still fires.
	if sum.Due != 2 || sum.Fired != 1 || sum.Failures != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	recs, _ := e.st.ListSchedules(ctx, "u1", "g-bad")
	if len(recs) != 1 || recs[0].Sched.LastRun != nil {
		t.Fatalf("failed schedule must stay un-fired: %+v", recs)
	}
	recs, _ = e.st.ListSchedules(ctx, "u1", "g1")
	if len(recs) != 1 || recs[0].Sched.LastRun == nil {
		t.Fatalf("healthy schedule must carry a marker: %+v", recs)
	}
}

// conflictStore loses every marker CAS, as if a twin instance won the race.
type conflictStore struct {
	store.Store
}

func (c *conflictStore) MarkFired(context.Context, string, int64, schedule.Date, schedule.TimeOfDay) error {
	return store.ErrConflict
}

func TestTickConflictIsSilent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, func(st store.Store) store.Store {
		return &conflictStore{Store: st}
	})
	seed(t, e.st, 1, dailySchedule("s1"))

	sum, err := e.tk.runAt(context.Background(), testDay, testAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sum.Conflicts != 1 || sum.Fired != 0 || sum.Failures != 0 {
		t.Fatalf("summary = %+v, want one silent conflict", sum)
	}
}

func TestTickHistoryBounded(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, nil)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := e.tk.runAt(ctx, testDay, testAt); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	snap := e.tk.Snapshot()
	if len(snap.History) != 4 {
		t.Fatalf("history = %d, want 4 (config bound)", len(snap.History))
	}
	if !snap.Enabled || snap.Cron != defaultCronSpec {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTriggerSkipsWhenDisabled(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil, nil)
	seed(t, e.st, 1, dailySchedule("s1"))
	e.tk.Apply(Config{Enabled: false})

	e.tk.trigger()
	snap := e.tk.Snapshot()
	if len(snap.History) != 0 {
		t.Fatalf("disabled trigger must not run a tick, history = %d", len(snap.History))
	}
}
