package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"cmmsd/internal/maintenance"
	logx "cmmsd/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// cycleRunRetention bounds the cycle_runs table.
const cycleRunRetention = 90 * 24 * time.Hour

// sqlStore is the sqlx-backed Store shared by the sqlite and postgres drivers.
// Queries are written with '?' placeholders and rebound per driver.
type sqlStore struct {
	db      *sqlx.DB
	dialect dialect
	log     logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sqlx.DB, d dialect, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, dialect: d, log: log, pruneEvery: 50}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

func (s *sqlStore) ops(q sqlx.ExtContext, inTx bool) sqlOps {
	return sqlOps{q: q, forUpdate: inTx && s.dialect == dialectPostgres}
}

func (s *sqlStore) Tx(ctx context.Context, fn func(tx Ops) error) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(s.ops(tx, true)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", logx.Err(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlStore) ListSchedules(ctx context.Context) ([]maintenance.Schedule, error) {
	return s.ops(s.db, false).ListSchedules(ctx)
}

func (s *sqlStore) GetSchedule(ctx context.Context, id int64) (maintenance.Schedule, error) {
	return s.ops(s.db, false).GetSchedule(ctx, id)
}

func (s *sqlStore) GetTemplate(ctx context.Context, scheduleID int64) (maintenance.Template, error) {
	return s.ops(s.db, false).GetTemplate(ctx, scheduleID)
}

func (s *sqlStore) InsertWorkOrder(ctx context.Context, wo maintenance.WorkOrder) (int64, error) {
	return s.ops(s.db, false).InsertWorkOrder(ctx, wo)
}

func (s *sqlStore) UpdateLastGenerated(ctx context.Context, scheduleID int64, d maintenance.Date) error {
	return s.ops(s.db, false).UpdateLastGenerated(ctx, scheduleID, d)
}

func (s *sqlStore) SetNotificationSent(ctx context.Context, workOrderID int64, sent bool) error {
	return s.ops(s.db, false).SetNotificationSent(ctx, workOrderID, sent)
}

func (s *sqlStore) ListOpenWorkOrders(ctx context.Context) ([]maintenance.WorkOrder, error) {
	return s.ops(s.db, false).ListOpenWorkOrders(ctx)
}

// CreateSchedule inserts a schedule and its template atomically.
func (s *sqlStore) CreateSchedule(ctx context.Context, sc maintenance.Schedule, t maintenance.Template) (maintenance.Schedule, maintenance.Template, error) {
	if err := validateNew(sc, t); err != nil {
		return sc, t, err
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	err := s.Tx(ctx, func(tx Ops) error {
		q := tx.(sqlOps).q
		err := q.QueryRowxContext(ctx, q.Rebind(`
			INSERT INTO maintenance_schedules
				(frequency, frequency_unit, start_date, end_date, last_generated,
				 notification_days_before, notification_recipients, created_at)
			VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
			sc.Frequency, string(sc.Unit), sc.StartDate, sc.EndDate, sc.LastGenerated,
			sc.NotifyDaysBefore, jsonList(sc.Recipients), sc.CreatedAt.UnixMilli(),
		).Scan(&sc.ID)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		t.ScheduleID = sc.ID
		err = q.QueryRowxContext(ctx, q.Rebind(`
			INSERT INTO work_order_templates
				(schedule_id, title, description, equipment_id, priority, estimated_hours,
				 assignment_type, craftsman_id, team_id, tools_required, spares_required)
			VALUES (?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
			t.ScheduleID, t.Title, t.Description, t.EquipmentID, string(t.Priority), t.EstimatedHours,
			t.Assignment.Kind(), t.Assignment.CraftsmanID, t.Assignment.TeamID, jsonList(t.Tools), jsonList(t.Spares),
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return nil
	})
	return sc, t, err
}

func (s *sqlStore) ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]maintenance.WorkOrder, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ScheduleID != 0 {
		where = append(where, "schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	if f.DueBefore != nil {
		where = append(where, "due_date <= ?")
		args = append(args, *f.DueBefore)
	}
	query := workOrderSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return selectWorkOrders(ctx, s.db, query, args...)
}

func (s *sqlStore) SetWorkOrderStatus(ctx context.Context, id int64, st maintenance.Status, at maintenance.Date) error {
	if !st.Valid() {
		return fmt.Errorf("status %q: %w", string(st), maintenance.ErrUnknownValue)
	}
	var completed *maintenance.Date
	if st == maintenance.StatusCompleted {
		completed = maintenance.DatePtr(at)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE work_orders SET status = ?, completed_date = ? WHERE id = ?`),
		string(st), completed, id)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("work order %d", id))
}

func (s *sqlStore) AppendCycleRun(ctx context.Context, r CycleRun) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cycle_runs
			(id, started_at, took_ms, trigger_name, ref_date, due_count, generated_count, skipped_count,
			 malformed_count, failed_count, reminded_count, reminder_failed_count, err)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.StartedAt.UnixMilli(), r.TookMS, r.Trigger, r.RefDate, r.Due, r.Generated, r.Skipped,
		r.Malformed, r.Failed, r.Reminded, r.ReminderFailed, nullStr(r.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if perr := s.pruneCycleRuns(pctx, time.Now().Add(-cycleRunRetention)); perr != nil {
			s.log.Debug("cycle run prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) LastCycleRun(ctx context.Context) (CycleRun, bool, error) {
	var row cycleRunRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, started_at, took_ms, trigger_name, ref_date, due_count, generated_count, skipped_count,
		       malformed_count, failed_count, reminded_count, reminder_failed_count, err
		FROM cycle_runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return CycleRun{}, false, nil
	}
	if err != nil {
		return CycleRun{}, false, err
	}
	return row.toRun(), true, nil
}

func (s *sqlStore) pruneCycleRuns(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM cycle_runs WHERE started_at < ?`), before.UnixMilli())
	return err
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- ops (db or tx) ----

type sqlOps struct {
	q         sqlx.ExtContext
	forUpdate bool
}

const scheduleSelect = `
	SELECT id, frequency, frequency_unit, start_date, end_date, last_generated,
	       notification_days_before, notification_recipients, created_at
	FROM maintenance_schedules`

const templateSelect = `
	SELECT id, schedule_id, title, description, equipment_id, priority, estimated_hours,
	       craftsman_id, team_id, tools_required, spares_required
	FROM work_order_templates`

const workOrderSelect = `
	SELECT id, schedule_id, title, description, equipment_id, priority, estimated_hours,
	       craftsman_id, team_id, tools_required, spares_required, notes, status,
	       due_date, created_date, completed_date, notification_sent
	FROM work_orders`

func (o sqlOps) ListSchedules(ctx context.Context) ([]maintenance.Schedule, error) {
	var rows []scheduleRow
	if err := sqlx.SelectContext(ctx, o.q, &rows, scheduleSelect+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	out := make([]maintenance.Schedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSchedule())
	}
	return out, nil
}

func (o sqlOps) GetSchedule(ctx context.Context, id int64) (maintenance.Schedule, error) {
	query := scheduleSelect + " WHERE id = ?"
	if o.forUpdate {
		query += " FOR UPDATE"
	}
	var row scheduleRow
	err := sqlx.GetContext(ctx, o.q, &row, o.q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return maintenance.Schedule{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return maintenance.Schedule{}, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return row.toSchedule(), nil
}

func (o sqlOps) GetTemplate(ctx context.Context, scheduleID int64) (maintenance.Template, error) {
	var row templateRow
	err := sqlx.GetContext(ctx, o.q, &row, o.q.Rebind(templateSelect+" WHERE schedule_id = ?"), scheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return maintenance.Template{}, fmt.Errorf("template for schedule %d: %w", scheduleID, ErrNotFound)
	}
	if err != nil {
		return maintenance.Template{}, fmt.Errorf("get template %d: %w", scheduleID, err)
	}
	return row.toTemplate(), nil
}

func (o sqlOps) InsertWorkOrder(ctx context.Context, wo maintenance.WorkOrder) (int64, error) {
	var id int64
	err := o.q.QueryRowxContext(ctx, o.q.Rebind(`
		INSERT INTO work_orders
			(schedule_id, title, description, equipment_id, priority, estimated_hours,
			 assignment_type, craftsman_id, team_id, tools_required, spares_required,
			 notes, status, due_date, created_date, completed_date, notification_sent)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		wo.ScheduleID, wo.Title, wo.Description, wo.EquipmentID, string(wo.Priority), wo.EstimatedHours,
		wo.Assignment.Kind(), wo.Assignment.CraftsmanID, wo.Assignment.TeamID, jsonList(wo.Tools), jsonList(wo.Spares),
		wo.Notes, string(wo.Status), wo.DueDate, wo.CreatedDate, wo.CompletedDate, wo.NotificationSent,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("schedule %d due %s: %w", wo.ScheduleID, wo.DueDate, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert work order: %w", err)
	}
	return id, nil
}

func (o sqlOps) UpdateLastGenerated(ctx context.Context, scheduleID int64, d maintenance.Date) error {
	res, err := o.q.ExecContext(ctx, o.q.Rebind(`UPDATE maintenance_schedules SET last_generated = ? WHERE id = ?`), d, scheduleID)
	if err != nil {
		return fmt.Errorf("update last_generated: %w", err)
	}
	return expectOne(res, fmt.Sprintf("schedule %d", scheduleID))
}

func (o sqlOps) SetNotificationSent(ctx context.Context, workOrderID int64, sent bool) error {
	res, err := o.q.ExecContext(ctx, o.q.Rebind(`UPDATE work_orders SET notification_sent = ? WHERE id = ?`), sent, workOrderID)
	if err != nil {
		return fmt.Errorf("set notification_sent: %w", err)
	}
	return expectOne(res, fmt.Sprintf("work order %d", workOrderID))
}

func (o sqlOps) ListOpenWorkOrders(ctx context.Context) ([]maintenance.WorkOrder, error) {
	return selectWorkOrders(ctx, o.q, workOrderSelect+" WHERE status = ? ORDER BY due_date, id", string(maintenance.StatusOpen))
}

func selectWorkOrders(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]maintenance.WorkOrder, error) {
	var rows []workOrderRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	out := make([]maintenance.WorkOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toWorkOrder())
	}
	return out, nil
}

// ---- rows ----

type scheduleRow struct {
	ID               int64             `db:"id"`
	Frequency        int               `db:"frequency"`
	Unit             string            `db:"frequency_unit"`
	StartDate        maintenance.Date  `db:"start_date"`
	EndDate          *maintenance.Date `db:"end_date"`
	LastGenerated    *maintenance.Date `db:"last_generated"`
	NotifyDaysBefore int               `db:"notification_days_before"`
	Recipients       jsonList          `db:"notification_recipients"`
	CreatedAtMS      int64             `db:"created_at"`
}

// toSchedule keeps the persisted unit verbatim; an unknown unit surfaces as a
// malformed schedule in the engine rather than as a store error.
func (r scheduleRow) toSchedule() maintenance.Schedule {
	unit := maintenance.FrequencyUnit(r.Unit)
	if u, err := maintenance.ParseFrequencyUnit(r.Unit); err == nil {
		unit = u
	}
	return maintenance.Schedule{
		ID:               r.ID,
		Frequency:        r.Frequency,
		Unit:             unit,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		LastGenerated:    r.LastGenerated,
		NotifyDaysBefore: r.NotifyDaysBefore,
		Recipients:       []string(r.Recipients),
		CreatedAt:        time.UnixMilli(r.CreatedAtMS),
	}
}

type templateRow struct {
	ID             int64           `db:"id"`
	ScheduleID     int64           `db:"schedule_id"`
	Title          string          `db:"title"`
	Description    string          `db:"description"`
	EquipmentID    *int64          `db:"equipment_id"`
	Priority       string          `db:"priority"`
	EstimatedHours decimal.Decimal `db:"estimated_hours"`
	CraftsmanID    *int64          `db:"craftsman_id"`
	TeamID         *int64          `db:"team_id"`
	Tools          jsonList        `db:"tools_required"`
	Spares         jsonList        `db:"spares_required"`
}

func (r templateRow) toTemplate() maintenance.Template {
	return maintenance.Template{
		ID:             r.ID,
		ScheduleID:     r.ScheduleID,
		Title:          r.Title,
		Description:    r.Description,
		EquipmentID:    r.EquipmentID,
		Priority:       parsePriority(r.Priority),
		EstimatedHours: r.EstimatedHours,
		Assignment:     maintenance.Assignment{CraftsmanID: r.CraftsmanID, TeamID: r.TeamID},
		Tools:          []string(r.Tools),
		Spares:         []string(r.Spares),
	}
}

type workOrderRow struct {
	templateRow
	Notes            string            `db:"notes"`
	Status           string            `db:"status"`
	DueDate          maintenance.Date  `db:"due_date"`
	CreatedDate      maintenance.Date  `db:"created_date"`
	CompletedDate    *maintenance.Date `db:"completed_date"`
	NotificationSent bool              `db:"notification_sent"`
}

func (r workOrderRow) toWorkOrder() maintenance.WorkOrder {
	st, err := maintenance.ParseStatus(r.Status)
	if err != nil {
		st = maintenance.Status(r.Status)
	}
	return maintenance.WorkOrder{
		ID:               r.ID,
		ScheduleID:       r.ScheduleID,
		Title:            r.Title,
		Description:      r.Description,
		EquipmentID:      r.EquipmentID,
		Priority:         parsePriority(r.Priority),
		EstimatedHours:   r.EstimatedHours,
		Assignment:       maintenance.Assignment{CraftsmanID: r.CraftsmanID, TeamID: r.TeamID},
		Tools:            []string(r.Tools),
		Spares:           []string(r.Spares),
		Notes:            r.Notes,
		Status:           st,
		DueDate:          r.DueDate,
		CreatedDate:      r.CreatedDate,
		CompletedDate:    r.CompletedDate,
		NotificationSent: r.NotificationSent,
	}
}

type cycleRunRow struct {
	ID             string         `db:"id"`
	StartedAtMS    int64          `db:"started_at"`
	TookMS         int64          `db:"took_ms"`
	Trigger        string         `db:"trigger_name"`
	RefDate        string         `db:"ref_date"`
	Due            int            `db:"due_count"`
	Generated      int            `db:"generated_count"`
	Skipped        int            `db:"skipped_count"`
	Malformed      int            `db:"malformed_count"`
	Failed         int            `db:"failed_count"`
	Reminded       int            `db:"reminded_count"`
	ReminderFailed int            `db:"reminder_failed_count"`
	Err            sql.NullString `db:"err"`
}

func (r cycleRunRow) toRun() CycleRun {
	return CycleRun{
		ID:             r.ID,
		StartedAt:      time.UnixMilli(r.StartedAtMS),
		TookMS:         r.TookMS,
		Trigger:        r.Trigger,
		RefDate:        r.RefDate,
		Due:            r.Due,
		Generated:      r.Generated,
		Skipped:        r.Skipped,
		Malformed:      r.Malformed,
		Failed:         r.Failed,
		Reminded:       r.Reminded,
		ReminderFailed: r.ReminderFailed,
		Error:          r.Err.String,
	}
}

// jsonList stores opaque string lists (recipients, tools, spares) as a JSON
// array in a text column.
type jsonList []string

func (l jsonList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *jsonList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("jsonList: cannot scan %T", src)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("jsonList: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}

func parsePriority(s string) maintenance.Priority {
	p, err := maintenance.ParsePriority(s)
	if err != nil {
		return maintenance.Priority(s)
	}
	return p
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
