package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	_ = idx
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			res := s.execJob(ctx, j)
			j.done <- res
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) Result {
	start := time.Now()
	s.setRunning(j.id, true)
	defer s.setRunning(j.id, false)

	rec := j.req.Record
	res := Result{ScheduleID: rec.Sched.ID}

	st, resv, _, _ := s.snapshotDeps()

	members, err := resv.ResolveMembers(ctx, rec.GroupID)
	if err != nil {
		// Hard failure: schedule stays un-fired, next tick retries.
		res.Err = err
		s.finish(j.id)
		s.log.Warn("fan-out failed: resolver unavailable",
			logx.String("schedule", rec.Sched.ID), logx.String("group", rec.GroupID), logx.Err(err))
		return res
	}

	s.setTotal(j.id, len(members))
	if len(members) == 0 {
		// Still counts as fired: retrying an empty group forever helps no one.
		s.finish(j.id)
		s.log.Info("fan-out no-op: group has no resolvable members",
			logx.String("schedule", rec.Sched.ID), logx.String("group", rec.GroupID))
		return res
	}

	for _, m := range members {
		it := store.Intent{
			ID:         uuid.NewString(),
			ScheduleID: rec.Sched.ID,
			GroupID:    rec.GroupID,
			ContactID:  m.ContactID,
			Message:    rec.Sched.Message,
			Status:     store.IntentStatusScheduled,
			CreatedAt:  time.Now(),
		}
		if err := s.appendOne(ctx, st, it); err != nil {
			res.Skipped++
			s.markSkipped(j.id)
			s.log.Warn("intent append failed; contact excluded",
				logx.String("schedule", rec.Sched.ID), logx.String("contact", m.ContactID), logx.Err(err))
			continue
		}
		res.Created++
		s.markCreated(j.id)
	}
	if res.Created == 0 && res.Skipped > 0 {
		// Nothing was written, so nobody can be double-delivered to; fail
		// hard and let the next tick retry the whole occurrence.
		res.Err = fmt.Errorf("no intents written: all %d appends failed", res.Skipped)
		s.finish(j.id)
		s.log.Warn("fan-out failed: every intent append failed",
			logx.String("schedule", rec.Sched.ID), logx.String("group", rec.GroupID),
			logx.Int("failed", res.Skipped), logx.Duration("dur", time.Since(start)))
		return res
	}
	s.finish(j.id)

	fields := []logx.Field{
		logx.String("schedule", rec.Sched.ID),
		logx.String("group", rec.GroupID),
		logx.Int("created", res.Created),
		logx.Int("skipped", res.Skipped),
		logx.Duration("dur", time.Since(start)),
	}
	if res.Skipped > 0 {
		s.log.Warn("fan-out finished with skipped contacts", fields...)
	} else {
		s.log.Info("fan-out finished", fields...)
	}
	return res
}

// appendOne writes one intent with rate limiting and bounded retry.
func (s *Service) appendOne(ctx context.Context, st store.Store, it store.Intent) error {
	_, _, lim, cfg := s.snapshotDeps()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	base := cfg.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	retry := cfg.RetryMax
	if retry <= 0 {
		retry = 2
	}

	var last error
	for i := 0; i <= retry; i++ {
		err := st.AppendIntent(ctx, it)
		if err == nil {
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := base << i
		if delay > maxDelay {
			delay = maxDelay
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

func (s *Service) setRunning(id string, v bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		if v {
			st.StartedAt = time.Now()
			st.Running = true
		} else {
			st.Running = false
		}
	}
}

func (s *Service) setTotal(id string, n int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Total = n
	}
}

func (s *Service) markCreated(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Created++
	}
}

func (s *Service) markSkipped(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Skipped++
	}
}

func (s *Service) finish(id string) {
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = time.Now()
		st.Running = false
	}
	n := len(s.status)
	s.statusMu.Unlock()

	if n > statusPruneThreshold {
		s.pruneStatus(time.Now())
	}
}
