package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"touchbase/internal/resolver"
	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

func New(cfg Config, st store.Store, res resolver.Resolver, log logx.Logger) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		st:      st,
		res:     res,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		queue:   make(chan job, qs),
		status:  map[string]*JobStatus{},
	}
}

// Apply updates runtime-tunable settings (rate limit, retry knobs).
// Live pool resizing is not supported; workers pick up retry settings per job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Workers = s.cfg.Workers
	cfg.QueueSize = s.cfg.QueueSize
	s.cfg = cfg
	rps := s.cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

// Submit enqueues one fan-out job and returns the channel its Result will be
// delivered on (buffered; the worker never blocks on it). ok is false when the
// service is stopped or the queue is full; the caller should leave the
// schedule un-fired and let the next tick retry.
func (s *Service) Submit(req Request) (<-chan Result, bool) {
	id := fmt.Sprintf("fo:%s:%d", req.Record.Sched.ID, time.Now().UnixNano())

	s.mu.Lock()
	stopped := s.stopCh == nil
	queue := s.queue
	s.mu.Unlock()
	if stopped {
		return nil, false
	}

	done := make(chan Result, 1)
	j := job{id: id, req: req, done: done}

	st := &JobStatus{
		ID:         id,
		ScheduleID: req.Record.Sched.ID,
		GroupID:    req.Record.GroupID,
	}
	s.statusMu.Lock()
	s.status[id] = st
	s.statusMu.Unlock()

	select {
	case queue <- j:
		return done, true
	default:
		s.statusMu.Lock()
		delete(s.status, id)
		s.statusMu.Unlock()
		s.log.Warn("fan-out queue full; schedule left un-fired",
			logx.String("schedule", req.Record.Sched.ID))
		return nil, false
	}
}

// Status returns a copy of one job's status record.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in fan-out worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.log.Info("fan-out started", logx.Int("workers", workers), logx.Int("rps", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("fan-out stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) snapshotDeps() (store.Store, resolver.Resolver, *rate.Limiter, Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.res, s.limiter, s.cfg
}
