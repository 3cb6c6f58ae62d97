package tick

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"touchbase/internal/eventbus"
	"touchbase/internal/fanout"
	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

const defaultCronSpec = "0 * * * *" // on the hour; the evaluator needs >= hourly cadence

// Config controls the orchestrator trigger.
type Config struct {
	Enabled  bool
	Cron     string
	Timezone string // IANA TZ, e.g. "Europe/Berlin"

	// Deadline bounds one whole tick; 0 disables it.
	Deadline time.Duration

	HistorySize int
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	started bool

	st  store.Store
	fo  *fanout.Service
	bus eventbus.Bus

	// runMu serializes ticks; the cron trigger skips instead of overlapping.
	runMu sync.Mutex

	hmu     sync.Mutex
	history []Summary
}

func New(cfg Config, st store.Store, fo *fanout.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		st:     st,
		fo:     fo,
		log:    log,
		bus:    bus,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the trigger config. Timezone or cron changes restart the cron
// with the new settings; a tick already in flight finishes under the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldSpec := s.specLocked()
	s.cfg = cfg

	var old *cron.Cron
	if s.c != nil && (oldTZ != strings.TrimSpace(cfg.Timezone) || oldSpec != s.specLocked()) {
		old = s.c
		s.c = nil
	}
	s.mu.Unlock()
	if old == nil {
		return
	}

	// Drain the old trigger outside the lock. A cron job in flight is a tick,
	// and the tick takes s.mu (location, history); waiting here with the lock
	// held would wedge both sides.
	<-old.Stop().Done()
	s.restart()
}

// restart installs a fresh cron under the current config. No-op when the
// service was stopped (or started again) while the old trigger drained.
func (s *Service) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.specLocked(), s.trigger); err != nil {
		s.log.Error("tick trigger restart failed", logx.Err(err))
		return
	}
	s.c = c
	c.Start()
	s.log.Info("tick trigger restarted", logx.String("cron", s.specLocked()), logx.String("tz", loc.String()))
}

func (s *Service) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(s.specLocked(), s.trigger); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.started = true
	s.log.Info("tick trigger started", logx.String("cron", s.specLocked()), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	stop := c.Stop()
	select {
	case <-stop.Done():
	case <-ctx.Done():
	}
	s.log.Info("tick trigger stopped")
}

// trigger is the cron entry point. It skips when the previous tick is still
// running rather than overlapping it.
func (s *Service) trigger() {
	if !s.runMu.TryLock() {
		s.log.Warn("tick skipped: previous tick still running")
		return
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	enabled := s.cfg.Enabled
	deadline := s.cfg.Deadline
	s.mu.Unlock()
	if !enabled {
		return
	}

	ctx := context.Background()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	if _, err := s.runLocked(ctx); err != nil {
		s.log.Error("tick failed", logx.Err(err))
	}
}

// Run executes one tick at the current wall-clock time. Used by the cron
// trigger and by one-shot invocation; ticks are serialized.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runLocked(ctx)
}

func (s *Service) specLocked() string {
	spec := strings.TrimSpace(s.cfg.Cron)
	if spec == "" {
		spec = defaultCronSpec
	}
	return spec
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}
