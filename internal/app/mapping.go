package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cmmsd/internal/config"
	"cmmsd/internal/httpapi"
	"cmmsd/internal/lock"
	"cmmsd/internal/maintenance"
	"cmmsd/internal/notifier"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
	telegram "cmmsd/internal/transport/telegram/adapter"
	"cmmsd/internal/trigger"
	logx "cmmsd/pkg/logx"
)

const defaultCycleTimeout = 15 * time.Minute

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxOpenConn: sc.MaxOpenConns,
	}, nil
}

func mapLock(cfg *config.Config) (lock.Config, error) {
	lc := cfg.Engine.Lock
	ttl, err := config.ParseDurationField("engine.lock.ttl", lc.TTL)
	if err != nil {
		return lock.Config{}, err
	}
	return lock.Config{
		Driver:    lc.Driver,
		Addr:      lc.Addr,
		Password:  lc.Password,
		DB:        lc.DB,
		KeyPrefix: lc.KeyPrefix,
		TTL:       ttl,
	}, nil
}

func mapEngine(cfg *config.Config) (recurrence.Config, error) {
	ec := cfg.Engine
	catchUp, err := recurrence.ParseCatchUp(strings.TrimSpace(ec.CatchUp))
	if err != nil {
		return recurrence.Config{}, fmt.Errorf("engine.catch_up: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(ec.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return recurrence.Config{}, fmt.Errorf("engine.timezone: %w", err)
		}
	}
	ttl, err := config.ParseDurationField("engine.lock.ttl", ec.Lock.TTL)
	if err != nil {
		return recurrence.Config{}, err
	}
	send, err := config.ParseDurationField("engine.send_timeout", ec.SendTimeout)
	if err != nil {
		return recurrence.Config{}, err
	}
	return recurrence.Config{
		CatchUp:     catchUp,
		Location:    loc,
		NotifyNew:   ec.NotifyNewEnabled(),
		LockKey:     strings.TrimSpace(ec.Lock.Key),
		LockTTL:     ttl,
		SendTimeout: send,
	}, nil
}

// Today is the current date in engine.timezone.
func Today(cfg *config.Config) (maintenance.Date, error) {
	ec, err := mapEngine(cfg)
	if err != nil {
		return maintenance.Date{}, err
	}
	return maintenance.DateOf(time.Now().In(ec.Location)), nil
}

// CycleTimeout bounds one cycle run by any trigger.
func CycleTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("engine.cycle_timeout", cfg.Engine.CycleTimeout, defaultCycleTimeout)
}

func mapTrigger(cfg *config.Config) (trigger.Config, error) {
	timeout, err := CycleTimeout(cfg)
	if err != nil {
		return trigger.Config{}, err
	}
	tc := trigger.Config{
		Enabled:    cfg.Engine.Enabled,
		Schedule:   strings.TrimSpace(cfg.Engine.Schedule),
		Timezone:   strings.TrimSpace(cfg.Engine.Timezone),
		Timeout:    timeout,
		RunOnStart: cfg.Engine.RunOnStart,
	}
	if err := trigger.Validate(tc); err != nil {
		return trigger.Config{}, fmt.Errorf("engine.schedule: %w", err)
	}
	return tc, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:    nc.Enabled,
		RatePerSec: nc.RatePerSec,
		RetryMax:   nc.RetryMax,
		SMTP: notifier.SMTPConfig{
			Host:     strings.TrimSpace(nc.SMTP.Host),
			Port:     nc.SMTP.Port,
			Username: nc.SMTP.Username,
			Password: nc.SMTP.Password,
			From:     strings.TrimSpace(nc.SMTP.From),
			StartTLS: nc.SMTP.StartTLS,
		},
	}
	var err error
	if nc.RetryMax == 0 {
		out.RetryMax = 3
	}
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.AttemptTimeout, err = config.ParseDurationField("notifier.attempt_timeout", nc.AttemptTimeout); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	out := httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", hc.ReadTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", hc.IdleTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.CycleTimeout, err = CycleTimeout(cfg); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

// mapTelegram reports enabled=false when no token is configured.
func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		return telegram.Config{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: token, PollTimeout: poll}, true, nil
}

// Validate runs every mapping so a reload is rejected before anything is
// applied.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, err := mapStorage(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapLock(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapEngine(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapTrigger(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifier(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHTTP(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapTelegram(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
