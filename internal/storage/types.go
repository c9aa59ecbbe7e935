package storage

import (
	"errors"
	"time"

	"cmmsd/internal/maintenance"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate work order for schedule period")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via DSN
//   - "memory": in-process store, lost on exit
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxOpenConn int           // postgres only; 0 means default
}

// WorkOrderFilter narrows ListWorkOrders. Zero values match everything.
type WorkOrderFilter struct {
	Status     maintenance.Status
	ScheduleID int64
	DueBefore  *maintenance.Date // inclusive
	Limit      int
}

// CycleRun records one maintenance cycle.
// Keep it compact and schema-stable.
type CycleRun struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	TookMS         int64     `json:"took_ms"`
	Trigger        string    `json:"trigger"`
	RefDate        string    `json:"ref_date"`
	Due            int       `json:"due"`
	Generated      int       `json:"generated"`
	Skipped        int       `json:"skipped"`
	Malformed      int       `json:"malformed"`
	Failed         int       `json:"failed"`
	Reminded       int       `json:"reminded"`
	ReminderFailed int       `json:"reminder_failed"`
	Error          string    `json:"error,omitempty"`
}
