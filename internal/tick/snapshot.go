package tick

import "time"

// Snapshot is a point-in-time view of the orchestrator for operational
// inspection.
type Snapshot struct {
	Enabled  bool
	Cron     string
	Timezone string

	Next time.Time
	Prev time.Time

	History []Summary
}

func (s *Service) appendHistory(sum Summary) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, sum)
	if size > 0 && len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Cron:     s.specLocked(),
		Timezone: s.cfg.Timezone,
	}
	if s.c != nil {
		entries := s.c.Entries()
		if len(entries) > 0 {
			snap.Next = entries[0].Next
			snap.Prev = entries[0].Prev
		}
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]Summary(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
