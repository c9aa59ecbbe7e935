package app

import (
	"errors"
	"io"

	"cmmsd/internal/config"
	"cmmsd/internal/eventbus"
	"cmmsd/internal/lock"
	"cmmsd/internal/notifier"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
	telegram "cmmsd/internal/transport/telegram/adapter"
	logx "cmmsd/pkg/logx"
)

// Components is the object graph one maintenance cycle needs. The daemon
// wraps it with triggers and servers; one-shot CLI commands use it directly.
type Components struct {
	Store    storage.Store
	Locker   lock.Locker
	Notifier *notifier.Service
	Engine   *recurrence.Engine
	// Telegram is nil when no bot token is configured.
	Telegram *telegram.Adapter

	closers []io.Closer
}

// OpenStore opens only the configured store.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

// Build wires store, lock, notification gateway and engine from cfg. bus may
// be nil.
func Build(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*Components, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	c := &Components{}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	store, err := OpenStore(cfg, log)
	if err != nil {
		return fail(err)
	}
	c.Store = store
	c.closers = append(c.closers, store)

	lc, _ := mapLock(cfg)
	locker, err := lock.New(lc)
	if err != nil {
		return fail(err)
	}
	c.Locker = locker
	if cl, ok := locker.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}

	if tc, enabled, _ := mapTelegram(cfg); enabled {
		ad, err := telegram.New(tc, log)
		if err != nil {
			return fail(err)
		}
		c.Telegram = ad
	}

	nc, _ := mapNotifier(cfg)
	c.Notifier = notifier.New(nc, log, bus)
	if err := c.registerChannels(cfg, nc, log); err != nil {
		return fail(err)
	}

	ec, _ := mapEngine(cfg)
	opts := []recurrence.Option{recurrence.WithLogger(log), recurrence.WithLocker(locker)}
	if bus != nil {
		opts = append(opts, recurrence.WithBus(bus))
	}
	c.Engine = recurrence.New(store, c.Notifier, ec, opts...)
	return c, nil
}

// registerChannels adds or replaces the delivery channels cfg enables.
// Channels removed from the config stay registered until restart.
func (c *Components) registerChannels(cfg *config.Config, nc notifier.Config, log logx.Logger) error {
	if c.Telegram != nil {
		c.Notifier.Register(notifier.TelegramChannel{Sender: c.Telegram})
	}
	if nc.SMTP.Host != "" {
		ch, err := notifier.NewSMTPChannel(nc.SMTP)
		if err != nil {
			return err
		}
		c.Notifier.Register(ch)
	}
	if cfg.Notifier.LogChannel {
		c.Notifier.Register(notifier.LogChannel{Log: log.With(logx.String("comp", "notifier.log"))})
	}
	return nil
}

func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
