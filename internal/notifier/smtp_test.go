package notifier

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

// fakeSMTP accepts one session and returns the commands and DATA it saw.
func fakeSMTP(t *testing.T, offerTLS bool) (host string, port int, done <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan []string, 1)
	go func() {
		var seen []string
		defer func() { out <- seen }()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			seen = append(seen, line)
			cmd := strings.ToUpper(strings.Fields(line + " x")[0])
			switch cmd {
			case "EHLO":
				if offerTLS {
					_ = tp.PrintfLine("250-fake")
					_ = tp.PrintfLine("250 STARTTLS")
				} else {
					_ = tp.PrintfLine("250 fake")
				}
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				seen = append(seen, "DATA:"+strings.Join(data, "\n"))
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestNewSMTPChannelValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewSMTPChannel(SMTPConfig{From: "cmms@example.com"}); err == nil {
		t.Fatal("expected error without host")
	}
	if _, err := NewSMTPChannel(SMTPConfig{Host: "mail.example.com"}); err == nil {
		t.Fatal("expected error without from")
	}
	c, err := NewSMTPChannel(SMTPConfig{Host: "mail.example.com", From: "cmms@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPChannel: %v", err)
	}
	if c.cfg.Port != 587 || c.Name() != "email" {
		t.Fatalf("channel = %+v", c.cfg)
	}
}

func TestSMTPMessage(t *testing.T) {
	t.Parallel()
	c, _ := NewSMTPChannel(SMTPConfig{Host: "mail.example.com", From: "cmms@example.com"})
	c.now = func() time.Time { return time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC) }

	msg := string(c.message("ops@example.com", "Upcoming Work Order Due: Pump ü", "line1\nline2"))
	for _, want := range []string{
		"From: cmms@example.com\r\n",
		"To: ops@example.com\r\n",
		"Subject: =?utf-8?q?",
		"Date: Mon, 08 Jan 2024 06:00:00 +0000\r\n",
		"Content-Type: text/plain; charset=\"utf-8\"\r\n",
		"\r\n\r\nline1\r\nline2\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSMTPDeliver(t *testing.T) {
	t.Parallel()
	host, port, done := fakeSMTP(t, false)
	c, err := NewSMTPChannel(SMTPConfig{Host: host, Port: port, From: "cmms@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPChannel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Deliver(ctx, "ops@example.com", "New Scheduled Work Order: Lube", "Title: Lube"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	seen := strings.Join(<-done, "\n")
	for _, want := range []string{"MAIL FROM:<cmms@example.com>", "RCPT TO:<ops@example.com>", "Title: Lube", "QUIT"} {
		if !strings.Contains(seen, want) {
			t.Fatalf("session missing %q:\n%s", want, seen)
		}
	}
}

func TestSMTPRequiresStartTLS(t *testing.T) {
	t.Parallel()
	host, port, _ := fakeSMTP(t, false)
	c, _ := NewSMTPChannel(SMTPConfig{Host: host, Port: port, From: "cmms@example.com", StartTLS: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Deliver(ctx, "ops@example.com", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("err = %v", err)
	}
}

func TestSMTPDialFailure(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c, _ := NewSMTPChannel(SMTPConfig{Host: "127.0.0.1", Port: port, From: "cmms@example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Deliver(ctx, "ops@example.com", "s", "b"); err == nil || !strings.Contains(err.Error(), "dial") {
		t.Fatalf("err = %v", err)
	}
}
