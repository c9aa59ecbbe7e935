package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cmmsd/internal/config"
	"cmmsd/internal/eventbus"
	"cmmsd/internal/httpapi"
	"cmmsd/internal/metrics"
	"cmmsd/internal/recurrence"
	rtsup "cmmsd/internal/runtime/supervisor"
	kit "cmmsd/internal/transport"
	"cmmsd/internal/transport/telegram/router"
	"cmmsd/internal/trigger"
	logx "cmmsd/pkg/logx"
	"cmmsd/pkg/systemd"
)

// App is the long-running daemon: the cycle components plus the trigger,
// HTTP API, Telegram commands, metrics and config hot reload.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	comp *Components
	trig *trigger.Service
	http *httpapi.Service
	cmdm *router.CommandManager
	sd   *systemd.Notifier

	updates chan kit.Message
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgm *config.ConfigManager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg), nil)
	bus := eventbus.New()

	comp, err := Build(cfg, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if comp.Telegram != nil {
		logSvc.SetSender(comp.Telegram)
	}
	setAlertTarget(logSvc, cfg)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		reg:     prometheus.NewRegistry(),
		comp:    comp,
		sd:      systemd.New(cfg.Systemd.Notify, cfg.Systemd.Watchdog, log),
		updates: make(chan kit.Message, 256),
	}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tc, _ := mapTrigger(cfg)
	a.trig = trigger.New(tc, log, a.runCycle)

	hc, _ := mapHTTP(cfg)
	a.http = httpapi.New(hc, httpapi.Deps{
		Engine:   comp.Engine,
		Store:    comp.Store,
		Gatherer: a.reg,
		Log:      log,
	})

	if cfg.Telegram.Commands && comp.Telegram != nil {
		a.cmdm = router.NewCommandManager(log, comp.Telegram, cfg.Telegram.OwnerUserIDs)
	}
	return a, nil
}

func setAlertTarget(logs *logx.Service, cfg *config.Config) {
	var to kit.ChatTarget
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		// Validated on load.
		to, _ = kit.ParseChatTarget(g)
	}
	logs.SetAlertTarget(to)
}

// Components exposes the cycle components, mainly for tests.
func (a *App) Components() *Components { return a.comp }

// Done is closed when the app supervisor context is canceled by a fatal
// error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// runCycle is the trigger job.
func (a *App) runCycle(ctx context.Context, reason string) error {
	rep, err := a.comp.Engine.Run(ctx, reason)
	a.sd.Status(statusLine(rep, time.Now()))
	return err
}

func statusLine(rep recurrence.Report, now time.Time) string {
	if rep.SkippedLocked {
		return fmt.Sprintf("last cycle %s skipped (locked)", now.Format(time.RFC3339))
	}
	return fmt.Sprintf("last cycle %s: due %d, generated %d, reminded %d, failed %d",
		now.Format(time.RFC3339), rep.Due, rep.Generated, rep.Reminded, rep.Failed+rep.ReminderFailed)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	m := metrics.New(a.reg)
	metrics.RegisterBusDrops(a.reg, a.bus)
	a.sup.Go("metrics", func(c context.Context) error { return m.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	if a.cmdm != nil {
		a.cmdm.SetCommands(a.sup.Context(), router.MaintenanceCommands(router.Ports{
			Engine:   a.comp.Engine,
			Store:    a.comp.Store,
			Trigger:  a.trig,
			Notifier: a.comp.Notifier,
		}))
		if err := a.comp.Telegram.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("telegram.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
	}

	a.http.Start(a.sup.Context())
	if err := a.trig.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.sd.RunWatchdog(c); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	})

	a.sd.Ready()
	a.log.Info("cmmsd started",
		logx.Bool("trigger", a.trig.Snapshot().Enabled),
		logx.Bool("http", a.cfgm.Get().HTTP.Enabled),
		logx.Bool("telegram_commands", a.cmdm != nil),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Reload re-reads the config file now, as on SIGHUP. It reports whether a
// changed config was applied.
func (a *App) Reload(ctx context.Context) bool {
	a.sd.Reloading()
	defer a.sd.Ready()
	return a.cfgm.Reload(ctx)
}

// applyConfig pushes a committed reload into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload without effective changes")
		return
	}

	a.logs.Apply(mapLogging(next))
	setAlertTarget(a.logs, next)

	if ec, err := mapEngine(next); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.comp.Engine.Apply(ec)
	}
	if tc, err := mapTrigger(next); err != nil {
		a.log.Warn("invalid trigger config; keeping previous", logx.Err(err))
	} else if err := a.trig.Apply(tc); err != nil {
		a.log.Warn("trigger reconfigure failed", logx.Err(err))
	}
	if nc, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.comp.Notifier.Apply(nc)
		if err := a.comp.registerChannels(next, nc, a.logs.Logger()); err != nil {
			a.log.Warn("notifier channels not updated", logx.Err(err))
		}
	}
	if hc, err := mapHTTP(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}
	if a.cmdm != nil {
		a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("some changes need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
}
