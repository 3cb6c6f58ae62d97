package fanout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"touchbase/internal/resolver"
	"touchbase/internal/store"
	logx "touchbase/pkg/logx"
)

// Config controls the fan-out worker pool.
type Config struct {
	Workers   int
	QueueSize int

	// RatePerSec caps intent appends across all workers.
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	StatusTTL time.Duration
	StatusMax int
}

// Request is one due schedule occurrence to fan out.
type Request struct {
	Record store.ScheduleRecord

	// Day/At are the occurrence the orchestrator evaluated; they key the
	// intent set and end up in the idempotency marker on success.
	Day string
	At  string
}

// Result reports one finished fan-out.
//
// Err is non-nil only for hard failures (resolver unavailable, or not a
// single intent could be written); the schedule must then stay un-fired.
// Skipped counts contacts excluded by stale references or append failures.
type Result struct {
	ScheduleID string
	Created    int
	Skipped    int
	Err        error
}

type job struct {
	id   string
	req  Request
	done chan Result
}

// JobStatus is the in-memory record of one fan-out, kept for observability.
type JobStatus struct {
	ID         string
	ScheduleID string
	GroupID    string
	Total      int
	Created    int
	Skipped    int
	StartedAt  time.Time
	DoneAt     time.Time
	Running    bool
}

type Service struct {
	mu sync.Mutex

	cfg Config
	st  store.Store
	res resolver.Resolver
	log logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
