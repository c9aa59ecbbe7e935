package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "cmmsd/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(notify, watchdog bool, every time.Duration) (*Notifier, *recorder) {
	r := &recorder{}
	n := New(notify, watchdog, logx.Nop())
	n.notify = r.notify
	n.interval = func() (time.Duration, error) { return every, nil }
	return n, r
}

func TestStates(t *testing.T) {
	t.Parallel()
	n, r := newTestNotifier(true, false, 0)
	n.Ready()
	n.Status("next cycle 06:00")
	n.Reloading()
	n.Stopping()

	want := []string{"READY=1", "STATUS=next cycle 06:00", "RELOADING=1", "STOPPING=1"}
	if len(r.states) != len(want) {
		t.Fatalf("states = %v", r.states)
	}
	for i := range want {
		if r.states[i] != want[i] {
			t.Fatalf("states[%d] = %q, want %q", i, r.states[i], want[i])
		}
	}
}

func TestDisabledIsSilent(t *testing.T) {
	t.Parallel()
	n, r := newTestNotifier(false, true, 10*time.Millisecond)
	n.Ready()
	if err := n.RunWatchdog(context.Background()); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
	if len(r.states) != 0 {
		t.Fatalf("states = %v", r.states)
	}

	var nilNotifier *Notifier
	nilNotifier.Ready()
}

func TestWatchdogPings(t *testing.T) {
	t.Parallel()
	n, r := newTestNotifier(true, true, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := n.RunWatchdog(ctx); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
	if got := r.count("WATCHDOG=1"); got < 3 {
		t.Fatalf("watchdog pings = %d", got)
	}
}

func TestWatchdogNotConfigured(t *testing.T) {
	t.Parallel()
	n, _ := newTestNotifier(true, true, 0)
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWatchdog: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when no watchdog is configured")
	}

	n.interval = func() (time.Duration, error) { return 0, errors.New("bad WATCHDOG_USEC") }
	if err := n.RunWatchdog(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
