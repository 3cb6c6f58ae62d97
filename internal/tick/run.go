package tick

import (
	"context"
	"errors"
	"strings"
	"time"

	"touchbase/internal/eventbus"
	"touchbase/internal/fanout"
	"touchbase/internal/schedule"
	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

// Summary is the outcome of one tick.
type Summary struct {
	Started  time.Time
	Duration time.Duration

	Day string
	At  string

	Scanned   int // schedules considered
	Due       int // schedules the evaluator reported as due
	Fired     int // markers committed after successful fan-out
	Intents   int // delivery-intent records created
	Conflicts int // marker CAS lost to a concurrent writer
	Failures  int // hard fan-out failures / marker write errors / deadline cuts
}

// FiredEvent is the payload of eventbus.TypeScheduleFired.
type FiredEvent struct {
	ScheduleID string
	GroupID    string
	UserID     string
	Day        string
	Intents    int
}

type pendingFanout struct {
	rec  store.ScheduleRecord
	done <-chan fanout.Result
}

func (s *Service) runLocked(ctx context.Context) (Summary, error) {
	now := time.Now().In(s.location())
	today := schedule.DateOf(now)
	at := schedule.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	return s.runAt(ctx, today, at)
}

// runAt is the tick body with the clock injected, which is what tests use.
func (s *Service) runAt(ctx context.Context, today schedule.Date, at schedule.TimeOfDay) (Summary, error) {
	sum := Summary{Started: time.Now(), Day: today.String(), At: at.String()}
	defer func() {
		sum.Duration = time.Since(sum.Started)
		s.appendHistory(sum)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Data: sum})
		}
	}()

	users, err := s.st.ListUsers(ctx)
	if err != nil {
		sum.Failures++
		return sum, err
	}

	// Phase 1: enumerate and submit every due schedule to the fan-out pool.
	var pending []pendingFanout
	for _, userID := range users {
		groups, err := s.st.ListGroups(ctx, userID)
		if err != nil {
			// One user's broken listing must not starve the rest.
			s.log.Warn("listing groups failed; user skipped this tick", logx.String("user", userID), logx.Err(err))
			sum.Failures++
			continue
		}
		for _, g := range groups {
			recs, err := s.st.ListSchedules(ctx, userID, g.ID)
			if err != nil {
				s.log.Warn("listing schedules failed; group skipped this tick",
					logx.String("user", userID), logx.String("group", g.ID), logx.Err(err))
				sum.Failures++
				continue
			}
			for _, rec := range recs {
				sum.Scanned++
				if !rec.Sched.Enabled || strings.TrimSpace(rec.Sched.Message) == "" {
					continue
				}
				if !schedule.IsDue(rec.Sched, today, at) {
					continue
				}
				sum.Due++

				done, ok := s.fo.Submit(fanout.Request{Record: rec, Day: today.String(), At: at.String()})
				if !ok {
					// Left un-fired on purpose; next tick retries.
					sum.Failures++
					continue
				}
				pending = append(pending, pendingFanout{rec: rec, done: done})
			}
		}
	}

	// Phase 2: collect results and commit markers.
	// Evaluation happened-before fan-out happened-before this marker write.
	for i, p := range pending {
		select {
		case <-ctx.Done():
			// Deadline: committed markers stand, the rest stays Idle.
			sum.Failures += len(pending) - i
			s.log.Warn("tick deadline exceeded; remaining fan-outs left un-marked", logx.Err(ctx.Err()))
			return sum, ctx.Err()
		case res := <-p.done:
			if res.Err != nil {
				sum.Failures++
				continue
			}
			sum.Intents += res.Created
			if err := s.markFired(ctx, p.rec, today, at, res, &sum); err != nil {
				return sum, err
			}
		}
	}

	s.log.Info("tick completed",
		logx.String("day", sum.Day), logx.String("at", sum.At),
		logx.Int("scanned", sum.Scanned), logx.Int("due", sum.Due),
		logx.Int("fired", sum.Fired), logx.Int("intents", sum.Intents),
		logx.Int("conflicts", sum.Conflicts), logx.Int("failures", sum.Failures),
		logx.Duration("dur", time.Since(sum.Started)))
	return sum, nil
}

func (s *Service) markFired(ctx context.Context, rec store.ScheduleRecord, today schedule.Date, at schedule.TimeOfDay, res fanout.Result, sum *Summary) error {
	err := s.st.MarkFired(ctx, rec.Sched.ID, rec.Version, today, at)
	switch {
	case err == nil:
		sum.Fired++
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFired, Data: FiredEvent{
				ScheduleID: rec.Sched.ID,
				GroupID:    rec.GroupID,
				UserID:     rec.UserID,
				Day:        today.String(),
				Intents:    res.Created,
			}})
		}
	case errors.Is(err, store.ErrConflict):
		// Someone else fired this occurrence. Losing the race can duplicate
		// the intent set; at-least-once delivery accepts that over ever
		// losing an occurrence.
		sum.Conflicts++
		s.log.Debug("marker conflict; occurrence already fired elsewhere", logx.String("schedule", rec.Sched.ID))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sum.Failures++
		return err
	default:
		sum.Failures++
		s.log.Warn("marker write failed; schedule will retry next tick",
			logx.String("schedule", rec.Sched.ID), logx.Err(err))
	}
	return nil
}
