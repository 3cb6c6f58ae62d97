package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the shared document store the CRUD product writes and
	// this engine reads (schedules, groups, contacts) and appends to (intents).
	Storage StorageConfig `json:"storage"`

	// Tick controls the periodic orchestrator trigger.
	Tick TickConfig `json:"tick"`

	// Fanout controls delivery-intent fan-out execution.
	Fanout FanoutConfig `json:"fanout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./touchbase_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TickConfig controls the orchestrator trigger.
//
// The evaluator matches on wall-clock hour, so Cron must fire at least once
// per hour. The default "0 * * * *" fires on the hour.
//
// All durations are Go duration strings (e.g. "10s", "5m").
type TickConfig struct {
	Enabled bool `json:"enabled"`

	// Cron is a 5-field cron expression or descriptor ("@hourly").
	Cron string `json:"cron,omitempty"`

	// Timezone is the IANA zone all schedule dates/times are interpreted in,
	// e.g. "Europe/Berlin". Empty means the server's local zone.
	Timezone string `json:"timezone,omitempty"`

	// Deadline bounds one whole tick. "0s" disables the deadline.
	Deadline string `json:"deadline,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// FanoutConfig controls the fan-out worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - rate_per_sec: 25
//   - retry_max: 2
//   - retry_base: "200ms"
//   - retry_max_delay: "5s"
type FanoutConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// StatusTTL bounds how long finished fan-out statuses are kept.
	StatusTTL string `json:"status_ttl,omitempty"`
}
