package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"cmmsd/internal/maintenance"
	logx "cmmsd/pkg/logx"
)

// Ops is the schedule store contract consumed by the recurrence engine.
// It is implemented both by Store and by the handle passed into Tx.
type Ops interface {
	ListSchedules(ctx context.Context) ([]maintenance.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (maintenance.Schedule, error)
	GetTemplate(ctx context.Context, scheduleID int64) (maintenance.Template, error)
	InsertWorkOrder(ctx context.Context, wo maintenance.WorkOrder) (int64, error)
	UpdateLastGenerated(ctx context.Context, scheduleID int64, d maintenance.Date) error
	SetNotificationSent(ctx context.Context, workOrderID int64, sent bool) error
	ListOpenWorkOrders(ctx context.Context) ([]maintenance.WorkOrder, error)
}

// Store is the persistence API used by the engine and the management surfaces.
type Store interface {
	Ops

	// Tx runs fn in one transaction. GetSchedule inside fn locks the row
	// where the backend supports it. A non-nil error from fn rolls back.
	Tx(ctx context.Context, fn func(tx Ops) error) error

	CreateSchedule(ctx context.Context, s maintenance.Schedule, t maintenance.Template) (maintenance.Schedule, maintenance.Template, error)
	ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]maintenance.WorkOrder, error)
	SetWorkOrderStatus(ctx context.Context, id int64, st maintenance.Status, at maintenance.Date) error

	AppendCycleRun(ctx context.Context, r CycleRun) error
	LastCycleRun(ctx context.Context) (CycleRun, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func defaultTimeout(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func validateNew(s maintenance.Schedule, t maintenance.Template) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return t.Validate()
}
