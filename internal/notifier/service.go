package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cmmsd/internal/eventbus"
	logx "cmmsd/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Service is the notification gateway. Send routes every recipient to its
// channel, rate limits and retries each delivery, and reports success only
// when all recipients were reached.
//
// It is safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	channels map[string]Channel

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, channels ...Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log.With(logx.String("comp", "notifier")),
		bus:      bus,
		channels: map[string]Channel{},
	}
	for _, ch := range channels {
		s.channels[ch.Name()] = ch
	}
	s.Apply(cfg)
	return s
}

// Register adds or replaces a channel.
func (s *Service) Register(ch Channel) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	s.channels[ch.Name()] = ch
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	s.mu.Lock()
	s.cfg = cfg
	// Burst equals the per-second rate so a cycle's batch is not throttled
	// message by message.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send delivers subject/body to every recipient. Duplicate recipients are
// delivered once. The error joins every failed recipient.
func (s *Service) Send(ctx context.Context, recipients []string, subject, body string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	chans := make(map[string]Channel, len(s.channels))
	for k, v := range s.channels {
		chans[k] = v
	}
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if len(recipients) == 0 {
		return errors.New("no recipients")
	}

	seen := make(map[string]bool, len(recipients))
	var errs []error
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true

		name, addr, err := route(r)
		if err == nil && chans[name] == nil {
			err = fmt.Errorf("%w: %s channel not configured", ErrUnknownChannel, name)
		}
		if err != nil {
			s.record(name, r, subject, 0, err)
			errs = append(errs, err)
			continue
		}
		if err := s.deliver(ctx, cfg, lim, chans[name], r, addr, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, ch Channel, recipient, addr, subject, body string) error {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		err := ch.Deliver(actx, addr, subject, body)
		cancel()
		if err == nil {
			s.record(ch.Name(), recipient, subject, attempt, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("notify attempt failed",
			logx.String("channel", ch.Name()),
			logx.String("to", recipient),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}
	s.record(ch.Name(), recipient, subject, attempt, lastErr)
	s.log.Warn("notification failed", logx.String("channel", ch.Name()), logx.String("to", recipient), logx.Err(lastErr))
	return lastErr
}

func (s *Service) record(channel, recipient, subject string, attempts int, err error) {
	now := time.Now()
	item := HistoryItem{At: now, Channel: channel, Recipient: recipient, Subject: subject}
	ev := NotificationEvent{Channel: channel, Recipient: recipient, Subject: subject, Attempts: attempts, At: now}
	typ := EventSent
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		typ = EventFailed
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
	}
}

// Snapshot returns the recent delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
