package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "cmmsd/pkg/logx"
)

func TestRunOnStart(t *testing.T) {
	t.Parallel()
	got := make(chan string, 1)
	s := New(Config{Enabled: true, Schedule: "@daily", RunOnStart: true}, logx.Nop(), func(_ context.Context, reason string) error {
		got <- reason
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case r := <-got:
		if r != ReasonStartup {
			t.Fatalf("reason = %q", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle did not run")
	}
	if info := s.Snapshot(); info.Next.IsZero() || info.Schedule != "@daily" {
		t.Fatalf("snapshot = %+v", info)
	}
}

func TestOverlappingFiringIsSkipped(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	s := New(Config{Enabled: true}, logx.Nop(), func(context.Context, string) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	})

	done := make(chan bool)
	go func() { done <- s.RunNow("manual") }()
	<-started
	if s.RunNow("manual") {
		t.Fatal("second firing ran while the first was in progress")
	}
	close(release)
	if !<-done {
		t.Fatal("first firing reported skipped")
	}
	info := s.Snapshot()
	if runs.Load() != 1 || info.Fired != 1 || info.Skipped != 1 || info.Running {
		t.Fatalf("runs=%d info=%+v", runs.Load(), info)
	}
}

func TestFireSurvivesErrorsAndPanics(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := New(Config{Enabled: true, Timeout: time.Second}, logx.Nop(), func(ctx context.Context, _ string) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cycle context has no deadline")
		}
		if calls.Add(1) == 1 {
			return errors.New("store down")
		}
		panic("boom")
	})
	if !s.RunNow("a") || !s.RunNow("b") {
		t.Fatal("RunNow skipped")
	}
	if s.Snapshot().Running {
		t.Fatal("running flag left set after panic")
	}
}

func TestApplyRestartsOnChange(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Schedule: "0 6 * * *", Timezone: "UTC"}, logx.Nop(), func(context.Context, string) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Apply(Config{Enabled: true, Schedule: "5s"}); err == nil {
		t.Fatal("Apply accepted an interval below the minimum")
	}
	if got := s.Snapshot().Schedule; got != "0 6 * * *" {
		t.Fatalf("schedule after rejected apply = %q", got)
	}

	if err := s.Apply(Config{Enabled: true, Schedule: "0 6 * * *", Timezone: "Asia/Tokyo"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	info := s.Snapshot()
	if info.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %q", info.Timezone)
	}
	if h := info.Next.In(time.UTC).Hour(); h != 21 {
		t.Fatalf("next run %v is not 06:00 Tokyo", info.Next)
	}

	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
	if info := s.Snapshot(); info.Enabled || !info.Next.IsZero() {
		t.Fatalf("disabled snapshot = %+v", info)
	}
}

func TestDisabledStartDoesNothing(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(Config{RunOnStart: true}, logx.Nop(), func(context.Context, string) error {
		runs.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
	if runs.Load() != 0 {
		t.Fatal("disabled trigger ran a cycle")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(Config{Schedule: "@hourly", Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("expected timezone error")
	}
	if err := Validate(Config{}); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
