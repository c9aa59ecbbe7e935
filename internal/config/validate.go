package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	kit "cmmsd/internal/transport"
)

// Validate performs the checks that need no external resources: known
// drivers and policies, parseable durations and timezones, and the
// cross-field requirements between sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required for the sqlite driver"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn (or %s) is required for the postgres driver", EnvStorageDSN))
		}
	case "memory", "mem":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.MaxOpenConns < 0 {
		add(errors.New("storage.max_open_conns must be >= 0"))
	}

	switch strings.TrimSpace(cfg.Engine.CatchUp) {
	case "", "latest", "each":
	default:
		add(fmt.Errorf("engine.catch_up: unknown policy %q (use latest or each)", cfg.Engine.CatchUp))
	}
	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("engine.timezone: %w", err))
		}
	}
	dur("engine.cycle_timeout", cfg.Engine.CycleTimeout)
	dur("engine.send_timeout", cfg.Engine.SendTimeout)
	dur("engine.lock.ttl", cfg.Engine.Lock.TTL)
	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Lock.Driver)) {
	case "", "local", "none":
	case "redis":
		if strings.TrimSpace(cfg.Engine.Lock.Addr) == "" {
			add(errors.New("engine.lock.addr is required for the redis driver"))
		}
	default:
		add(fmt.Errorf("engine.lock.driver: unknown driver %q", cfg.Engine.Lock.Driver))
	}

	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.RetryMax < 0 {
		add(errors.New("notifier.rate_per_sec and notifier.retry_max must be >= 0"))
	}
	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	dur("notifier.attempt_timeout", cfg.Notifier.AttemptTimeout)
	if smtp := cfg.Notifier.SMTP; strings.TrimSpace(smtp.Host) != "" {
		if strings.TrimSpace(smtp.From) == "" {
			add(errors.New("notifier.smtp.from is required when smtp.host is set"))
		}
		if smtp.Port < 0 || smtp.Port > 65535 {
			add(fmt.Errorf("notifier.smtp.port: %d out of range", smtp.Port))
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := kit.ParseChatTarget(g); err != nil {
			add(fmt.Errorf("telegram.group_log: %w", err))
		}
	}
	if cfg.Telegram.Commands {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(fmt.Errorf("telegram.commands needs telegram.token (or %s)", EnvTelegramToken))
		}
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			add(errors.New("telegram.commands needs at least one telegram.owner_user_ids entry"))
		}
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram needs telegram.group_log"))
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)

	return errors.Join(errs...)
}
