package recurrence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cmmsd/internal/eventbus"
	"cmmsd/internal/lock"
	"cmmsd/internal/maintenance"
	"cmmsd/internal/storage"
	logx "cmmsd/pkg/logx"
)

// ErrNoGateway is reported for every notification when the engine was built
// without a gateway.
var ErrNoGateway = errors.New("no notification gateway")

// Gateway delivers one message to a list of recipient addresses. A nil error
// means every recipient received it.
type Gateway interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, recipients []string, subject, body string) error

func (f GatewayFunc) Send(ctx context.Context, recipients []string, subject, body string) error {
	return f(ctx, recipients, subject, body)
}

// Config is the live-reloadable part of the engine.
type Config struct {
	CatchUp CatchUp
	// Location decides which calendar day "today" is.
	Location *time.Location
	// NotifyNew sends the new-instance notice after each generation.
	NotifyNew bool
	LockKey   string
	LockTTL   time.Duration
	// SendTimeout bounds one gateway call.
	SendTimeout time.Duration
}

// Option configures optional collaborators.
type Option func(*Engine)

func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(e *Engine) { e.bus = b } }
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs maintenance cycles against a store and a gateway.
//
// Cycles are serialized by an in-process mutex; a Locker extends that to
// other processes sharing the store.
type Engine struct {
	store  storage.Store
	gw     Gateway
	log    logx.Logger
	bus    eventbus.Bus
	locker lock.Locker
	now    func() time.Time

	cycleMu sync.Mutex

	mu   sync.Mutex
	cfg  Config
	last *Report
}

func New(store storage.Store, gw Gateway, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		gw:    gw,
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "recurrence"))
	if e.gw == nil {
		e.gw = GatewayFunc(func(context.Context, []string, string, string) error { return ErrNoGateway })
	}
	e.Apply(cfg)
	return e
}

func (e *Engine) Apply(cfg Config) {
	if cfg.CatchUp == "" {
		cfg.CatchUp = CatchUpLatest
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "maintenance-cycle"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Today is the reference date a cycle started now would use.
func (e *Engine) Today() maintenance.Date {
	return maintenance.DateOf(e.now().In(e.config().Location))
}

// LastReport returns the report of the most recent cycle run by this engine.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Report{}, false
	}
	return e.last.clone(), true
}

// GenerateWorkOrderInstance creates the next instance of one schedule in a
// single store transaction: re-read, re-check, insert, advance
// last_generated. It returns ErrNotDue and writes nothing when the schedule is
// not due on ref anymore.
func (e *Engine) GenerateWorkOrderInstance(ctx context.Context, scheduleID int64, ref maintenance.Date) (maintenance.WorkOrder, error) {
	policy := e.config().CatchUp
	var out maintenance.WorkOrder
	err := e.store.Tx(ctx, func(tx storage.Ops) error {
		s, err := tx.GetSchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		ok, err := IsDue(s, ref)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDue
		}
		t, err := tx.GetTemplate(ctx, scheduleID)
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		wo, err := BuildInstance(s, t, ref, policy)
		if err != nil {
			return err
		}
		id, err := tx.InsertWorkOrder(ctx, wo)
		if err != nil {
			return fmt.Errorf("insert work order: %w", err)
		}
		wo.ID = id
		if err := tx.UpdateLastGenerated(ctx, s.ID, wo.DueDate); err != nil {
			return fmt.Errorf("update last generated: %w", err)
		}
		out = wo
		return nil
	})
	if err != nil {
		return maintenance.WorkOrder{}, err
	}
	return out, nil
}

// RunMaintenanceCycle runs one cycle for today.
func (e *Engine) RunMaintenanceCycle(ctx context.Context) (Report, error) {
	return e.Run(ctx, TriggerManual)
}

// Run runs one cycle for today, labelled with what fired it.
func (e *Engine) Run(ctx context.Context, trigger string) (Report, error) {
	return e.RunMaintenanceCycleAt(ctx, e.Today(), trigger)
}

// RunMaintenanceCycleAt runs the generation pass then the reminder pass for
// ref. Per-schedule and per-reminder failures are counted in the report and
// never stop the cycle; the returned error is set only when the schedule list
// could not be read at all.
func (e *Engine) RunMaintenanceCycleAt(ctx context.Context, ref maintenance.Date, trigger string) (Report, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cfg := e.config()
	rep := Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		RefDate:   ref,
		StartedAt: e.now(),
	}
	log := e.log.With(logx.String("run", rep.RunID), logx.String("ref", ref.String()), logx.String("trigger", trigger))

	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, cfg.LockKey, cfg.LockTTL)
		if err != nil {
			log.Warn("cycle lock unavailable", logx.Err(err))
			rep.addError(fmt.Errorf("cycle lock: %w", err))
			rep.SkippedLocked = true
			return e.finish(ctx, log, rep, err)
		}
		if !ok {
			log.Info("cycle skipped, another process holds the lock")
			rep.SkippedLocked = true
			return e.finish(ctx, log, rep, nil)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(rctx); err != nil {
				log.Warn("cycle lock release failed", logx.Err(err))
			}
		}()
	}

	e.publish(EventCycleStarted, CycleEvent{RunID: rep.RunID, Trigger: trigger, RefDate: ref})

	schedules, err := e.store.ListSchedules(ctx)
	if err != nil {
		log.Error("list schedules failed", logx.Err(err))
		rep.addError(fmt.Errorf("list schedules: %w", err))
		return e.finish(ctx, log, rep, err)
	}

	e.generationPass(ctx, log, cfg, schedules, ref, &rep)
	e.reminderPass(ctx, log, cfg, schedules, ref, &rep)

	return e.finish(ctx, log, rep, nil)
}

func (e *Engine) generationPass(ctx context.Context, log logx.Logger, cfg Config, schedules []maintenance.Schedule, ref maintenance.Date, rep *Report) {
	recipients := make(map[int64][]string, len(schedules))
	for _, s := range schedules {
		recipients[s.ID] = s.Recipients
	}

	due, malformed := FindDueSchedules(schedules, ref)
	rep.Due = len(due)
	for _, m := range malformed {
		rep.Malformed++
		rep.addError(m)
		log.Warn("malformed schedule skipped", logx.Int64("schedule", m.ScheduleID), logx.Err(m.Err))
	}

	for _, s := range due {
		slog := log.With(logx.Int64("schedule", s.ID))
		wo, err := e.GenerateWorkOrderInstance(ctx, s.ID, ref)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotDue), errors.Is(err, storage.ErrDuplicate):
			rep.Skipped++
			slog.Info("generation skipped", logx.Err(err))
			continue
		case errors.Is(err, ErrMalformedSchedule), errors.Is(err, maintenance.ErrInvalidTemplate):
			rep.Malformed++
			rep.addError(ScheduleError{ScheduleID: s.ID, Err: err})
			slog.Warn("malformed schedule skipped", logx.Err(err))
			continue
		default:
			rep.Failed++
			rep.addError(ScheduleError{ScheduleID: s.ID, Err: err})
			slog.Error("generation failed", logx.Err(err))
			continue
		}

		rep.Generated++
		rep.WorkOrders = append(rep.WorkOrders, wo.ID)
		slog.Info("work order generated",
			logx.Int64("work_order", wo.ID),
			logx.String("due", wo.DueDate.String()),
			logx.String("title", wo.Title),
		)
		e.publish(EventGenerated, WorkOrderEvent{RunID: rep.RunID, WorkOrderID: wo.ID, ScheduleID: s.ID, DueDate: wo.DueDate})

		rcpt := recipients[s.ID]
		if !cfg.NotifyNew || len(rcpt) == 0 {
			continue
		}
		subject, body := NewOrderMessage(wo)
		if err := e.send(ctx, cfg, rcpt, subject, body); err != nil {
			rep.NewNotifyFailed++
			slog.Warn("new work order notice failed", logx.Int64("work_order", wo.ID), logx.Err(err))
			continue
		}
		rep.NewNotified++
	}
}

func (e *Engine) reminderPass(ctx context.Context, log logx.Logger, cfg Config, schedules []maintenance.Schedule, ref maintenance.Date, rep *Report) {
	open, err := e.store.ListOpenWorkOrders(ctx)
	if err != nil {
		log.Error("list open work orders failed", logx.Err(err))
		rep.addError(fmt.Errorf("list open work orders: %w", err))
		return
	}

	for _, r := range CheckApproachingDueDates(open, schedules, ref) {
		wlog := log.With(logx.Int64("work_order", r.WorkOrder.ID), logx.Int("days_left", r.DaysLeft))
		subject, body := ReminderMessage(r)
		ev := WorkOrderEvent{RunID: rep.RunID, WorkOrderID: r.WorkOrder.ID, ScheduleID: r.WorkOrder.ScheduleID, DueDate: r.WorkOrder.DueDate}

		if err := e.send(ctx, cfg, r.Recipients, subject, body); err != nil {
			rep.ReminderFailed++
			ev.Error = err.Error()
			e.publish(EventReminderFailed, ev)
			wlog.Warn("reminder failed, will retry next cycle", logx.Err(err))
			continue
		}
		// The message went out; if the flag cannot be stored the reminder
		// repeats next cycle.
		if err := e.store.SetNotificationSent(ctx, r.WorkOrder.ID, true); err != nil {
			rep.ReminderFailed++
			rep.addError(fmt.Errorf("work order %d: mark notified: %w", r.WorkOrder.ID, err))
			ev.Error = err.Error()
			e.publish(EventReminderFailed, ev)
			wlog.Error("mark notified failed", logx.Err(err))
			continue
		}
		rep.Reminded++
		e.publish(EventReminderSent, ev)
		wlog.Info("reminder sent")
	}
}

func (e *Engine) send(ctx context.Context, cfg Config, recipients []string, subject, body string) error {
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	return e.gw.Send(sctx, recipients, subject, body)
}

func (e *Engine) finish(ctx context.Context, log logx.Logger, rep Report, cause error) (Report, error) {
	rep.Took = e.now().Sub(rep.StartedAt)
	if rep.Took < 0 {
		rep.Took = 0
	}

	if !rep.SkippedLocked || cause != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.store.AppendCycleRun(rctx, rep.CycleRun(cause)); err != nil {
			log.Warn("record cycle run failed", logx.Err(err))
		}
		cancel()
	}

	e.mu.Lock()
	cp := rep.clone()
	e.last = &cp
	e.mu.Unlock()

	e.publish(EventCycleFinished, rep.clone())

	fields := []logx.Field{
		logx.Int("due", rep.Due),
		logx.Int("generated", rep.Generated),
		logx.Int("skipped", rep.Skipped),
		logx.Int("malformed", rep.Malformed),
		logx.Int("failed", rep.Failed),
		logx.Int("reminded", rep.Reminded),
		logx.Int("reminder_failed", rep.ReminderFailed),
		logx.Duration("took", rep.Took),
	}
	switch {
	case cause != nil:
		log.Error("maintenance cycle aborted", append(fields, logx.Err(cause))...)
	case rep.SkippedLocked:
	default:
		log.Info("maintenance cycle done", fields...)
	}
	return rep, cause
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}
