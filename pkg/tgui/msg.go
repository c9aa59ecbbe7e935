package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "cmmsd/internal/transport"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// Message is a rendered payload: the parts to send in order plus the shared
// send options. Each part is valid HTML on its own.
type Message struct {
	Parts []string
	Opt   *kit.SendOptions
}

// Text joins all parts; handy for logs and tests.
func (m Message) Text() string { return strings.Join(m.Parts, "\n") }

// Send delivers every part to the chat, stopping at the first error.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) error {
	opt := m.Opt
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	for _, p := range m.Parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := s.SendText(ctx, to, p, opt); err != nil {
			return err
		}
	}
	return nil
}

// Builder accumulates escaped HTML lines.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	lines []string
	limit int
}

func New() *Builder {
	return &Builder{limit: MaxMessageRunes}
}

// Limit overrides the per-part size used by Build. Mainly for tests.
func (b *Builder) Limit(runes int) *Builder {
	if runes > 0 {
		b.limit = runes
	}
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		return b.Raw(Esc(e).String() + " " + B(t).String())
	}
	return b.Raw(B(t).String())
}

// Section adds a blank line and a bold header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if len(b.lines) > 0 {
		b.Blank()
	}
	return b.Raw(B(t).String())
}

// Line adds one escaped line.
func (b *Builder) Line(s string) *Builder {
	return b.Raw(Esc(s).String())
}

// Raw appends pre-rendered HTML.
func (b *Builder) Raw(h string) *Builder {
	b.lines = append(b.lines, h)
	return b
}

func (b *Builder) Blank() *Builder { return b.Raw("") }

// Bullets adds one bullet line per non-empty item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds a "key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	return b.Raw("• " + B(key).String() + ": " + Esc(strings.TrimSpace(value)).String())
}

// Build splits the lines into parts of at most the configured size. Lines
// are never split across parts, except a single line longer than the limit,
// which is truncated.
func (b *Builder) Build() Message {
	var (
		parts []string
		cur   []string
		size  int
	)
	flush := func() {
		if text := strings.Trim(strings.Join(cur, "\n"), "\n"); text != "" {
			parts = append(parts, text)
		}
		cur, size = nil, 0
	}
	for _, ln := range b.lines {
		n := utf8.RuneCountInString(ln)
		if n > b.limit {
			ln = fitLine(ln, b.limit)
			n = utf8.RuneCountInString(ln)
		}
		if size > 0 && size+1+n > b.limit {
			flush()
		}
		if size > 0 {
			size++
		}
		cur = append(cur, ln)
		size += n
	}
	flush()
	return Message{Parts: parts, Opt: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}}
}

// fitLine shortens a rendered line to at most limit runes. Cutting escaped
// HTML could split an entity or tag, so the line is re-rendered as plain
// text.
func fitLine(h string, limit int) string {
	plain := stripTags(h)
	cut := limit - 1
	for cut > 0 {
		out := Esc(TruncRunes(plain, cut)).String()
		n := utf8.RuneCountInString(out)
		if n <= limit {
			return out
		}
		cut -= n - limit
	}
	return ""
}

// stripTags removes tags and unescapes entities of a rendered line.
func stripTags(h string) string {
	var b strings.Builder
	in := false
	for _, r := range h {
		switch {
		case r == '<':
			in = true
		case r == '>' && in:
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return unescape(b.String())
}
