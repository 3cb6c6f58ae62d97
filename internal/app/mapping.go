package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"touchbase/internal/config"
	"touchbase/internal/fanout"
	"touchbase/internal/store"
	"touchbase/internal/tick"
	logx "touchbase/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapFanoutConfig(cfg *config.Config) (fanout.Config, error) {
	f := cfg.Fanout
	base, err := config.ParseDurationOrDefault("fanout.retry_base", f.RetryBase, 200*time.Millisecond)
	if err != nil {
		return fanout.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("fanout.retry_max_delay", f.RetryMaxDelay, 5*time.Second)
	if err != nil {
		return fanout.Config{}, err
	}
	ttl, err := config.ParseDurationField("fanout.status_ttl", f.StatusTTL)
	if err != nil {
		return fanout.Config{}, err
	}
	return fanout.Config{
		Workers:       f.Workers,
		QueueSize:     f.QueueSize,
		RatePerSec:    f.RatePerSec,
		RetryMax:      f.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		StatusTTL:     ttl,
	}, nil
}

func mapTickConfig(cfg *config.Config) (tick.Config, error) {
	t := cfg.Tick
	deadline, err := config.ParseDurationField("tick.deadline", t.Deadline)
	if err != nil {
		return tick.Config{}, err
	}
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return tick.Config{}, fmt.Errorf("tick.timezone: %w", err)
		}
	}
	return tick.Config{
		Enabled:     t.Enabled,
		Cron:        t.Cron,
		Timezone:    t.Timezone,
		Deadline:    deadline,
		HistorySize: t.HistorySize,
	}, nil
}

// validateConfig rejects a hot-reloaded config before it is committed. A file
// edit with a bad duration or timezone must not take down a running engine.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg.Storage.Driver == "" {
		return fmt.Errorf("storage.driver is required")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFanoutConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTickConfig(cfg); err != nil {
		return err
	}
	return nil
}
