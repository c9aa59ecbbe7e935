// Package systemd reports service state to systemd through sd_notify.
//
// Every call is a no-op when the process was not started by a systemd unit
// with NOTIFY_SOCKET set.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "cmmsd/pkg/logx"
)

// Notifier sends READY/RELOADING/STOPPING/STATUS and watchdog pings.
type Notifier struct {
	notifyOn   bool
	watchdogOn bool
	log        logx.Logger

	notify   func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func New(notify, watchdog bool, log logx.Logger) *Notifier {
	return &Notifier{
		notifyOn:   notify,
		watchdogOn: watchdog,
		log:        log.With(logx.String("comp", "systemd")),
		notify:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval:   func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) {
	if n == nil || !n.notifyOn {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// RunWatchdog pings the watchdog at half of WatchdogSec until ctx is done.
// It returns at once when the unit has no watchdog configured.
func (n *Notifier) RunWatchdog(ctx context.Context) error {
	if n == nil || !n.notifyOn || !n.watchdogOn {
		return nil
	}
	every, err := n.interval()
	if err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Info("watchdog enabled", logx.Duration("every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
