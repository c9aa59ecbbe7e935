// Package trigger fires maintenance cycles on a cron or interval schedule.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "cmmsd/pkg/logx"
)

// Reasons passed to the job.
const (
	ReasonSchedule = "schedule"
	ReasonStartup  = "startup"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string // IANA name; empty means local time
	// Timeout bounds one cycle.
	Timeout    time.Duration
	RunOnStart bool
}

// Job runs one cycle.
type Job func(ctx context.Context, reason string) error

// Info is a point-in-time view for status output.
type Info struct {
	Enabled  bool
	Schedule string
	Timezone string
	Next     time.Time
	Prev     time.Time
	Running  bool
	Fired    uint64
	Skipped  uint64
}

// Service owns one cron entry. A firing that arrives while the previous
// cycle is still running is skipped, not queued.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	job   Job
	ctx   context.Context
	c     *cron.Cron
	entry cron.EntryID
	spec  ParsedSchedule
	loc   *time.Location

	running atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
	wg      sync.WaitGroup
}

func New(cfg Config, log logx.Logger, job Job) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: withDefaults(cfg), log: log.With(logx.String("comp", "trigger")), job: job}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return cfg
}

// Validate checks the schedule and timezone without touching a running
// service. Used as a config validation hook.
func Validate(cfg Config) error {
	cfg = withDefaults(cfg)
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return err
	}
	_, err := loadLocation(cfg.Timezone)
	return err
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Start registers the schedule and starts cron. With RunOnStart a cycle is
// fired immediately in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	if !s.cfg.Enabled {
		s.log.Info("trigger disabled")
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(ReasonStartup)
		}()
	}
	return nil
}

func (s *Service) startLocked() error {
	ps, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	job := cron.FuncJob(func() { s.fire(ReasonSchedule) })
	var id cron.EntryID
	if ps.Kind == KindInterval {
		id = c.Schedule(cron.Every(ps.Every), job)
	} else {
		id, err = c.AddJob(ps.Cron, job)
		if err != nil {
			return fmt.Errorf("register schedule: %w", err)
		}
	}
	c.Start()
	s.c, s.entry, s.spec, s.loc = c, id, ps, loc
	s.log.Info("trigger started",
		logx.String("schedule", ps.String()),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// stopLocked stops cron without waiting for a running cycle.
func (s *Service) stopLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
		s.entry = 0
	}
}

// Apply swaps the configuration. A changed schedule, timezone or enabled
// flag restarts cron; an invalid config is rejected and the old one stays.
func (s *Service) Apply(cfg Config) error {
	cfg = withDefaults(cfg)
	if cfg.Enabled {
		if err := Validate(cfg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if old.Enabled == cfg.Enabled && old.Schedule == cfg.Schedule && old.Timezone == cfg.Timezone {
		return nil
	}
	s.stopLocked()
	if !cfg.Enabled {
		s.log.Info("trigger disabled")
		return nil
	}
	return s.startLocked()
}

// RunNow fires a cycle synchronously. It reports false when a cycle was
// already running.
func (s *Service) RunNow(reason string) bool {
	return s.fire(reason)
}

func (s *Service) fire(reason string) (ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("cycle still running, firing skipped", logx.String("reason", reason))
		return false
	}
	defer s.running.Store(false)
	s.fired.Add(1)
	ran = true

	s.mu.Lock()
	base := s.ctx
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panic", logx.String("reason", reason), logx.Any("panic", r))
		}
	}()
	if err := s.job(ctx, reason); err != nil {
		s.log.Warn("cycle failed", logx.String("reason", reason), logx.Err(err))
	}
	return ran
}

// Stop stops cron and waits for a startup cycle, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

func (s *Service) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		Enabled:  s.cfg.Enabled,
		Schedule: s.cfg.Schedule,
		Timezone: s.cfg.Timezone,
		Running:  s.running.Load(),
		Fired:    s.fired.Load(),
		Skipped:  s.skipped.Load(),
	}
	if s.loc != nil {
		info.Timezone = s.loc.String()
	}
	if s.c != nil && s.entry != 0 {
		e := s.c.Entry(s.entry)
		info.Next, info.Prev = e.Next, e.Prev
	}
	return info
}

// cronLogger routes cron's own logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Trace("cron "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
