package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	kit "cmmsd/internal/transport"
	logx "cmmsd/pkg/logx"
	"cmmsd/pkg/tgui"
)

var ErrUnknownChannel = errors.New("no channel for recipient")

// Channel delivers one message to one address of its scheme.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, address, subject, body string) error
}

// route maps a recipient to a channel name and the channel-local address:
//
//	telegram:<chat>[/<thread>]  -> telegram
//	log:<label>                 -> log
//	[mailto:]user@host          -> email
func route(recipient string) (channel, address string, err error) {
	r := strings.TrimSpace(recipient)
	scheme, rest, ok := strings.Cut(r, ":")
	if ok {
		switch strings.ToLower(scheme) {
		case "telegram", "tg":
			return "telegram", rest, nil
		case "log":
			return "log", rest, nil
		case "mailto":
			r = rest
		default:
			return "", "", fmt.Errorf("%w: unknown scheme %q", ErrUnknownChannel, scheme)
		}
	}
	addr, perr := mail.ParseAddress(r)
	if perr != nil {
		return "", "", fmt.Errorf("%w: %q is not an email address", ErrUnknownChannel, recipient)
	}
	return "email", addr.Address, nil
}

// TelegramChannel sends through a chat adapter as HTML: bold subject, then
// the escaped body. Long bodies are split over several messages.
type TelegramChannel struct {
	Sender kit.Sender
}

func (TelegramChannel) Name() string { return "telegram" }

func (c TelegramChannel) Deliver(ctx context.Context, address, subject, body string) error {
	to, err := kit.ParseChatTarget(address)
	if err != nil {
		return err
	}
	b := tgui.New().Title("", subject).Blank()
	for _, ln := range strings.Split(body, "\n") {
		b.Line(ln)
	}
	return b.Build().Send(ctx, c.Sender, to)
}

// LogChannel writes the message to the log. Used for dry runs.
type LogChannel struct {
	Log logx.Logger
}

func (LogChannel) Name() string { return "log" }

func (c LogChannel) Deliver(_ context.Context, address, subject, body string) error {
	c.Log.Info("notification",
		logx.String("to", address),
		logx.String("subject", subject),
		logx.String("body", body),
	)
	return nil
}
