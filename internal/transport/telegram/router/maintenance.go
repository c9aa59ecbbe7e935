package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cmmsd/internal/maintenance"
	"cmmsd/internal/notifier"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
	"cmmsd/internal/trigger"
	"cmmsd/pkg/tgui"
)

// Ports are the components the maintenance commands read and drive. Trigger
// and Notifier may be nil.
type Ports struct {
	Engine interface {
		Run(ctx context.Context, trigger string) (recurrence.Report, error)
		LastReport() (recurrence.Report, bool)
		Today() maintenance.Date
	}
	Store interface {
		ListWorkOrders(ctx context.Context, f storage.WorkOrderFilter) ([]maintenance.WorkOrder, error)
	}
	Trigger  interface{ Snapshot() trigger.Info }
	Notifier interface{ Snapshot() []notifier.HistoryItem }
}

const (
	defaultDueWindow = 7
	duePageSize      = 15
)

// MaintenanceCommands returns /status, /run and /due.
func MaintenanceCommands(p Ports) []Command {
	return []Command{
		{
			Name:        "status",
			Description: "last cycle, next run and recent notifications",
			Timeout:     10 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Send(ctx, statusMessage(p))
			},
		},
		{
			Name:        "run",
			Description: "run a maintenance cycle now",
			Timeout:     15 * time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				rep, err := p.Engine.Run(ctx, recurrence.TriggerTelegram)
				if err != nil {
					return err
				}
				b := tgui.New()
				writeReport(b, rep)
				return req.Send(ctx, b.Build())
			},
		},
		{
			Name:        "due",
			Usage:       "[days] [page]",
			Description: "open work orders due soon",
			Timeout:     30 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				days, page := defaultDueWindow, 1
				if len(req.Args) > 0 {
					n, err := strconv.Atoi(req.Args[0])
					if err != nil || n < 0 || n > 366 {
						return errors.New("days must be a number between 0 and 366")
					}
					days = n
				}
				if len(req.Args) > 1 {
					n, err := strconv.Atoi(req.Args[1])
					if err != nil || n < 1 {
						return errors.New("page must be a positive number")
					}
					page = n
				}
				today := p.Engine.Today()
				until := today.AddDays(days)
				wos, err := p.Store.ListWorkOrders(ctx, storage.WorkOrderFilter{
					Status:    maintenance.StatusOpen,
					DueBefore: &until,
				})
				if err != nil {
					return err
				}
				return req.Send(ctx, dueMessage(wos, today, days, page-1))
			},
		},
	}
}

func writeReport(b *tgui.Builder, rep recurrence.Report) {
	if rep.SkippedLocked {
		b.Line("Cycle skipped: another process is running one.")
		return
	}
	b.Raw(tgui.JoinH(" ",
		tgui.B("Cycle"),
		tgui.Code(shortID(rep.RunID)),
		tgui.Esc(fmt.Sprintf("(%s) for %s took %s", rep.Trigger, rep.RefDate, rep.Took.Round(time.Millisecond))),
	).String())
	b.Line(fmt.Sprintf("Due %d, generated %d, skipped %d, malformed %d, failed %d", rep.Due, rep.Generated, rep.Skipped, rep.Malformed, rep.Failed))
	b.Line(fmt.Sprintf("Reminders sent %d, failed %d", rep.Reminded, rep.ReminderFailed))
	for i, e := range rep.Errors {
		if i == 3 {
			b.Line(fmt.Sprintf("... %d more errors", len(rep.Errors)-3))
			break
		}
		b.Line("! " + e)
	}
}

func statusMessage(p Ports) tgui.Message {
	b := tgui.New().Title("🛠", "Maintenance status")
	b.Section("Last cycle")
	if rep, ok := p.Engine.LastReport(); ok {
		writeReport(b, rep)
	} else {
		b.Line("No cycle has run since start.")
	}
	if p.Trigger != nil {
		info := p.Trigger.Snapshot()
		b.Section("Trigger")
		switch {
		case !info.Enabled:
			b.Line("disabled")
		case info.Next.IsZero():
			b.KV("schedule", fmt.Sprintf("%s (%s)", info.Schedule, info.Timezone))
		default:
			b.KV("next", info.Next.Format("2006-01-02 15:04"))
			b.KV("schedule", fmt.Sprintf("%s (%s)", info.Schedule, info.Timezone))
		}
		if info.Running {
			b.KV("state", "cycle running")
		}
		b.KV("fired", strconv.FormatUint(info.Fired, 10))
		if info.Skipped > 0 {
			b.KV("overlapping firings skipped", strconv.FormatUint(info.Skipped, 10))
		}
	}
	if p.Notifier != nil {
		hist := p.Notifier.Snapshot()
		if n := len(hist); n > 0 {
			b.Section("Recent notifications")
			for _, h := range hist[max(0, n-5):] {
				state := "ok"
				if h.Error != "" {
					state = "FAILED"
				}
				b.Bullets(fmt.Sprintf("%s %s %s %s", h.At.Format("01-02 15:04"), state, h.Recipient, tgui.TruncRunes(h.Subject, 80)))
			}
		}
	}
	return b.Build()
}

func dueMessage(wos []maintenance.WorkOrder, today maintenance.Date, days, page int) tgui.Message {
	b := tgui.New()
	if len(wos) == 0 {
		return b.Line(fmt.Sprintf("No open work orders due in the next %d days.", days)).Build()
	}
	sub, page, _ := tgui.Page(wos, page, duePageSize)
	b.Title("", fmt.Sprintf("Open work orders due by %s", today.AddDays(days)))
	for _, wo := range sub {
		line := tgui.JoinH(" ",
			tgui.Code(fmt.Sprintf("#%d", wo.ID)),
			tgui.Esc(fmt.Sprintf("%s [%s] due %s", wo.Title, wo.Priority, wo.DueDate)),
		)
		if wo.DueDate.Before(today) {
			line = tgui.JoinH(" ", line, tgui.I("overdue"))
		}
		b.Raw(line.String())
	}
	if len(wos) > duePageSize {
		b.Blank().Line(tgui.PageLabel(page, duePageSize, len(wos)))
	}
	return b.Build()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
