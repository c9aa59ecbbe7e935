package tgui

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	kit "cmmsd/internal/transport"
)

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()
	m := New().
		Title("🛠", "Pump <A>").
		Section("Details").
		KV("team", "Ops & Co").
		Bullets("one", " ", "two").
		Line("1 < 2").
		Build()

	want := strings.Join([]string{
		"🛠 <b>Pump &lt;A&gt;</b>",
		"",
		"<b>Details</b>",
		"• <b>team</b>: Ops &amp; Co",
		"• one",
		"• two",
		"1 &lt; 2",
	}, "\n")
	if len(m.Parts) != 1 || m.Parts[0] != want {
		t.Fatalf("parts = %q", m.Parts)
	}
	if m.Opt == nil || m.Opt.ParseMode != "HTML" || !m.Opt.DisablePreview {
		t.Fatalf("opt = %+v", m.Opt)
	}
}

func TestBuildSplitsOnLineBoundaries(t *testing.T) {
	t.Parallel()
	b := New().Limit(40)
	for i := 0; i < 10; i++ {
		b.Line("work order line " + strings.Repeat("x", 5))
	}
	m := b.Build()
	if len(m.Parts) < 3 {
		t.Fatalf("expected several parts, got %d", len(m.Parts))
	}
	lines := 0
	for _, p := range m.Parts {
		if n := utf8.RuneCountInString(p); n > 40 {
			t.Fatalf("part of %d runes exceeds limit: %q", n, p)
		}
		lines += len(strings.Split(p, "\n"))
	}
	if lines != 10 {
		t.Fatalf("lines across parts = %d, want 10", lines)
	}
}

func TestBuildTruncatesOversizedLine(t *testing.T) {
	t.Parallel()
	m := New().Limit(64).Raw(B(strings.Repeat("a&b ", 40)).String()).Build()
	if len(m.Parts) != 1 {
		t.Fatalf("parts = %d", len(m.Parts))
	}
	p := m.Parts[0]
	if utf8.RuneCountInString(p) > 64 || strings.Contains(p, "<b>") || !strings.HasSuffix(p, "…") {
		t.Fatalf("truncated part = %q", p)
	}
	if strings.Contains(strings.ReplaceAll(p, "&amp;", ""), "&") {
		t.Fatalf("broken entity in %q", p)
	}
}

type captureSender struct {
	texts []string
	fail  bool
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if c.fail {
		return kit.MessageRef{}, context.DeadlineExceeded
	}
	c.texts = append(c.texts, opt.ParseMode+"|"+text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestMessageSend(t *testing.T) {
	t.Parallel()
	s := &captureSender{}
	m := Message{Parts: []string{"a", "  ", "b"}}
	if err := m.Send(context.Background(), s, kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.texts) != 2 || s.texts[0] != "HTML|a" || s.texts[1] != "HTML|b" {
		t.Fatalf("sent = %q", s.texts)
	}
	if err := m.Send(context.Background(), &captureSender{fail: true}, kit.ChatTarget{ChatID: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPage(t *testing.T) {
	t.Parallel()
	items := []int{1, 2, 3, 4, 5, 6, 7}
	cases := []struct {
		page, size  int
		want        []int
		wantPage    int
		wantHasNext bool
	}{
		{0, 3, []int{1, 2, 3}, 0, true},
		{2, 3, []int{7}, 2, false},
		{9, 3, []int{7}, 2, false},
		{-1, 3, []int{1, 2, 3}, 0, true},
		{0, 10, items, 0, false},
	}
	for _, tc := range cases {
		sub, page, next := Page(items, tc.page, tc.size)
		if len(sub) != len(tc.want) || sub[0] != tc.want[0] || page != tc.wantPage || next != tc.wantHasNext {
			t.Fatalf("Page(%d,%d) = %v %d %v", tc.page, tc.size, sub, page, next)
		}
	}
	if sub, page, next := Page([]int(nil), 3, 5); len(sub) != 0 || page != 0 || next {
		t.Fatalf("empty page = %v %d %v", sub, page, next)
	}
}

func TestPageLabel(t *testing.T) {
	t.Parallel()
	if got := PageLabel(1, 10, 25); got != "page 2/3 (11-20 of 25)" {
		t.Fatalf("label = %q", got)
	}
	if got := PageLabel(7, 10, 25); got != "page 3/3 (21-25 of 25)" {
		t.Fatalf("clamped label = %q", got)
	}
	if got := PageLabel(0, 10, 0); got != "page 1/1" {
		t.Fatalf("empty label = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("got %q", got)
	}
}
