package recurrence

import (
	"time"

	"cmmsd/internal/maintenance"
	"cmmsd/internal/storage"
)

// Trigger labels.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerHTTP     = "http"
	TriggerTelegram = "telegram"
	TriggerCLI      = "cli"
)

// Event types published on the bus.
const (
	EventCycleStarted   = "cycle.started"
	EventCycleFinished  = "cycle.finished"
	EventGenerated      = "workorder.generated"
	EventReminderSent   = "reminder.sent"
	EventReminderFailed = "reminder.failed"
)

// CycleEvent is the payload of EventCycleStarted.
type CycleEvent struct {
	RunID   string           `json:"run_id"`
	Trigger string           `json:"trigger"`
	RefDate maintenance.Date `json:"ref_date"`
}

// WorkOrderEvent is the payload of generation and reminder events.
type WorkOrderEvent struct {
	RunID       string           `json:"run_id"`
	WorkOrderID int64            `json:"work_order_id"`
	ScheduleID  int64            `json:"schedule_id"`
	DueDate     maintenance.Date `json:"due_date"`
	Error       string           `json:"error,omitempty"`
}

// Report summarizes one maintenance cycle. It is also the payload of
// EventCycleFinished.
type Report struct {
	RunID     string           `json:"run_id"`
	Trigger   string           `json:"trigger"`
	RefDate   maintenance.Date `json:"ref_date"`
	StartedAt time.Time        `json:"started_at"`
	Took      time.Duration    `json:"took"`

	Due       int `json:"due"`
	Generated int `json:"generated"`
	// Skipped counts due schedules another writer already served.
	Skipped   int `json:"skipped"`
	Malformed int `json:"malformed"`
	Failed    int `json:"failed"`

	Reminded       int `json:"reminded"`
	ReminderFailed int `json:"reminder_failed"`

	NewNotified     int `json:"new_notified"`
	NewNotifyFailed int `json:"new_notify_failed"`

	SkippedLocked bool     `json:"skipped_locked,omitempty"`
	WorkOrders    []int64  `json:"work_orders,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

const maxReportErrors = 50

func (r *Report) addError(err error) {
	if err == nil {
		return
	}
	if len(r.Errors) >= maxReportErrors {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

func (r Report) clone() Report {
	r.WorkOrders = append([]int64(nil), r.WorkOrders...)
	r.Errors = append([]string(nil), r.Errors...)
	return r
}

// OK reports whether the cycle ran and nothing failed.
func (r Report) OK() bool {
	return !r.SkippedLocked && r.Failed == 0 && r.ReminderFailed == 0 && len(r.Errors) == 0
}

// CycleRun converts the report into its audit record.
func (r Report) CycleRun(cause error) storage.CycleRun {
	run := storage.CycleRun{
		ID:             r.RunID,
		StartedAt:      r.StartedAt,
		TookMS:         r.Took.Milliseconds(),
		Trigger:        r.Trigger,
		RefDate:        r.RefDate.String(),
		Due:            r.Due,
		Generated:      r.Generated,
		Skipped:        r.Skipped,
		Malformed:      r.Malformed,
		Failed:         r.Failed,
		Reminded:       r.Reminded,
		ReminderFailed: r.ReminderFailed,
	}
	switch {
	case cause != nil:
		run.Error = cause.Error()
	case len(r.Errors) > 0:
		run.Error = r.Errors[0]
	}
	return run
}
