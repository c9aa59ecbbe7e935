package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cmmsd/internal/maintenance"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
	kit "cmmsd/internal/transport"
	logx "cmmsd/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	menu  []kit.BotCommand
	got   chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{got: make(chan struct{}, 16)}
}

func (s *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.got <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *recordingSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	s.mu.Lock()
	s.menu = cmds
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(3 * time.Second):
		t.Fatal("no reply")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[len(s.texts)-1]
}

type botFixture struct {
	send  *recordingSender
	in    chan kit.Message
	store *storage.Memory
}

const owner = 42

func startBot(t *testing.T) botFixture {
	t.Helper()
	st := storage.NewMemory()
	start, _ := maintenance.ParseDate("2024-01-08")
	if _, _, err := st.CreateSchedule(context.Background(),
		maintenance.Schedule{Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: start},
		maintenance.Template{Title: "Grease bearings", Priority: maintenance.PriorityLow},
	); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	clock := func() time.Time { return time.Date(2024, 1, 8, 7, 0, 0, 0, time.UTC) }
	eng := recurrence.New(st, nil, recurrence.Config{Location: time.UTC}, recurrence.WithClock(clock))

	send := newRecordingSender()
	m := NewCommandManager(logx.Nop(), send, []int64{owner})
	ctx, cancel := context.WithCancel(context.Background())
	m.SetCommands(ctx, MaintenanceCommands(Ports{Engine: eng, Store: st}))

	in := make(chan kit.Message, 4)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return botFixture{send: send, in: in, store: st}
}

func (f botFixture) say(from int64, text string) {
	f.in <- kit.Message{ChatID: 100, FromID: from, Text: text}
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()
	f := startBot(t)
	f.say(7, "/run")
	if got := f.send.wait(t); got != "unauthorized" {
		t.Fatalf("reply = %q", got)
	}
	f.say(7, "/help")
	if got := f.send.wait(t); strings.Contains(got, "/run") || !strings.Contains(got, "/help") {
		t.Fatalf("help for non-owner = %q", got)
	}
}

func TestRunThenDue(t *testing.T) {
	t.Parallel()
	f := startBot(t)

	f.say(owner, "/run@cmms_bot")
	if got := f.send.wait(t); !strings.Contains(got, "generated 1") {
		t.Fatalf("run reply = %q", got)
	}
	f.say(owner, "/due 3")
	if got := f.send.wait(t); !strings.Contains(got, "Grease bearings") || !strings.Contains(got, "due 2024-01-08") {
		t.Fatalf("due reply = %q", got)
	}
	f.say(owner, "/due soon")
	if got := f.send.wait(t); !strings.HasPrefix(got, "error: ") {
		t.Fatalf("bad arg reply = %q", got)
	}
	f.say(owner, "/status")
	if got := f.send.wait(t); !strings.Contains(got, "Last cycle") {
		t.Fatalf("status reply = %q", got)
	}
}

func TestUnknownCommandAndPlainText(t *testing.T) {
	t.Parallel()
	f := startBot(t)
	f.say(owner, "hello there")
	f.say(owner, "/frobnicate")
	if got := f.send.wait(t); !strings.Contains(got, "unknown command") {
		t.Fatalf("reply = %q", got)
	}
}

func TestMenuPublished(t *testing.T) {
	t.Parallel()
	f := startBot(t)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.send.mu.Lock()
		n := len(f.send.menu)
		f.send.mu.Unlock()
		if n == 4 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("menu not published with 4 commands")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		word string
		args int
		ok   bool
	}{
		{"/due 3", "due", 1, true},
		{"/Run@bot", "run", 0, true},
		{"  /status  ", "status", 0, true},
		{"status", "", 0, false},
		{"/", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		w, args, ok := parseCommand(tc.in)
		if ok != tc.ok || w != tc.word || len(args) != tc.args {
			t.Fatalf("parseCommand(%q) = %q %v %v", tc.in, w, args, ok)
		}
	}
}

func TestDueMessagePaging(t *testing.T) {
	t.Parallel()
	today := maintenance.NewDate(2024, 1, 8)
	wos := make([]maintenance.WorkOrder, 0, 20)
	for i := 1; i <= 20; i++ {
		wos = append(wos, maintenance.WorkOrder{
			ID:       int64(i),
			Title:    "Check <valve>",
			Priority: maintenance.PriorityMedium,
			DueDate:  today.AddDays(i - 2),
		})
	}

	first := dueMessage(wos, today, 30, 0).Text()
	if !strings.Contains(first, "<code>#1</code>") || !strings.Contains(first, "<i>overdue</i>") {
		t.Fatalf("first page = %q", first)
	}
	if strings.Contains(first, "<valve>") || !strings.Contains(first, "Check &lt;valve&gt;") {
		t.Fatalf("title not escaped: %q", first)
	}
	if !strings.Contains(first, "page 1/2 (1-15 of 20)") {
		t.Fatalf("first page label missing: %q", first)
	}

	second := dueMessage(wos, today, 30, 5).Text()
	if !strings.Contains(second, "<code>#20</code>") || strings.Contains(second, "<code>#15</code>") {
		t.Fatalf("second page = %q", second)
	}
	if !strings.Contains(second, "page 2/2 (16-20 of 20)") {
		t.Fatalf("second page label missing: %q", second)
	}

	if got := dueMessage(nil, today, 3, 0).Text(); got != "No open work orders due in the next 3 days." {
		t.Fatalf("empty = %q", got)
	}
}
