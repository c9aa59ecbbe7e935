package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cmmsd/internal/maintenance"
)

// Memory is an in-process Store. Tx holds the store lock for the duration of
// fn and restores the previous state if fn fails.
type Memory struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	schedules  map[int64]maintenance.Schedule
	templates  map[int64]maintenance.Template // by schedule id
	workOrders map[int64]maintenance.WorkOrder
	runs       []CycleRun

	nextSchedule int64
	nextTemplate int64
	nextWO       int64
}

func NewMemory() *Memory {
	return &Memory{st: memState{
		schedules:  map[int64]maintenance.Schedule{},
		templates:  map[int64]maintenance.Template{},
		workOrders: map[int64]maintenance.WorkOrder{},
	}}
}

func (m *Memory) Tx(ctx context.Context, fn func(tx Ops) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.st.clone()
	if err := fn(memOps{st: &m.st}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

func (m *Memory) locked(fn func(o memOps) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memOps{st: &m.st})
}

func (m *Memory) ListSchedules(ctx context.Context) (out []maintenance.Schedule, err error) {
	err = m.locked(func(o memOps) error { out, err = o.ListSchedules(ctx); return err })
	return out, err
}

func (m *Memory) GetSchedule(ctx context.Context, id int64) (out maintenance.Schedule, err error) {
	err = m.locked(func(o memOps) error { out, err = o.GetSchedule(ctx, id); return err })
	return out, err
}

func (m *Memory) GetTemplate(ctx context.Context, scheduleID int64) (out maintenance.Template, err error) {
	err = m.locked(func(o memOps) error { out, err = o.GetTemplate(ctx, scheduleID); return err })
	return out, err
}

func (m *Memory) InsertWorkOrder(ctx context.Context, wo maintenance.WorkOrder) (id int64, err error) {
	err = m.locked(func(o memOps) error { id, err = o.InsertWorkOrder(ctx, wo); return err })
	return id, err
}

func (m *Memory) UpdateLastGenerated(ctx context.Context, scheduleID int64, d maintenance.Date) error {
	return m.locked(func(o memOps) error { return o.UpdateLastGenerated(ctx, scheduleID, d) })
}

func (m *Memory) SetNotificationSent(ctx context.Context, workOrderID int64, sent bool) error {
	return m.locked(func(o memOps) error { return o.SetNotificationSent(ctx, workOrderID, sent) })
}

func (m *Memory) ListOpenWorkOrders(ctx context.Context) (out []maintenance.WorkOrder, err error) {
	err = m.locked(func(o memOps) error { out, err = o.ListOpenWorkOrders(ctx); return err })
	return out, err
}

func (m *Memory) CreateSchedule(ctx context.Context, s maintenance.Schedule, t maintenance.Template) (maintenance.Schedule, maintenance.Template, error) {
	if err := validateNew(s, t); err != nil {
		return s, t, err
	}
	if err := ctx.Err(); err != nil {
		return s, t, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.nextSchedule++
	m.st.nextTemplate++
	s.ID = m.st.nextSchedule
	t.ID = m.st.nextTemplate
	t.ScheduleID = s.ID
	m.st.schedules[s.ID] = cloneSchedule(s)
	m.st.templates[s.ID] = cloneTemplate(t)
	return s, t, nil
}

func (m *Memory) ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]maintenance.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]maintenance.WorkOrder, 0, len(m.st.workOrders))
	for _, wo := range m.st.workOrders {
		if f.Status != "" && wo.Status != f.Status {
			continue
		}
		if f.ScheduleID != 0 && wo.ScheduleID != f.ScheduleID {
			continue
		}
		if f.DueBefore != nil && wo.DueDate.After(*f.DueBefore) {
			continue
		}
		out = append(out, cloneWorkOrder(wo))
	}
	sortWorkOrders(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SetWorkOrderStatus(ctx context.Context, id int64, st maintenance.Status, at maintenance.Date) error {
	if !st.Valid() {
		return fmt.Errorf("status %q: %w", string(st), maintenance.ErrUnknownValue)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wo, ok := m.st.workOrders[id]
	if !ok {
		return fmt.Errorf("work order %d: %w", id, ErrNotFound)
	}
	wo.Status = st
	wo.CompletedDate = nil
	if st == maintenance.StatusCompleted {
		wo.CompletedDate = maintenance.DatePtr(at)
	}
	m.st.workOrders[id] = wo
	return nil
}

func (m *Memory) AppendCycleRun(ctx context.Context, r CycleRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.st.runs = append(m.st.runs, r)
	if len(m.st.runs) > 500 {
		m.st.runs = m.st.runs[len(m.st.runs)-500:]
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) LastCycleRun(ctx context.Context) (CycleRun, bool, error) {
	if err := ctx.Err(); err != nil {
		return CycleRun{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.st.runs) == 0 {
		return CycleRun{}, false, nil
	}
	return m.st.runs[len(m.st.runs)-1], true, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }
func (m *Memory) Close() error                   { return nil }

// ---- unlocked ops ----

type memOps struct{ st *memState }

func (o memOps) ListSchedules(ctx context.Context) ([]maintenance.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]maintenance.Schedule, 0, len(o.st.schedules))
	for _, s := range o.st.schedules {
		out = append(out, cloneSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (o memOps) GetSchedule(ctx context.Context, id int64) (maintenance.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return maintenance.Schedule{}, err
	}
	s, ok := o.st.schedules[id]
	if !ok {
		return maintenance.Schedule{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return cloneSchedule(s), nil
}

func (o memOps) GetTemplate(ctx context.Context, scheduleID int64) (maintenance.Template, error) {
	if err := ctx.Err(); err != nil {
		return maintenance.Template{}, err
	}
	t, ok := o.st.templates[scheduleID]
	if !ok {
		return maintenance.Template{}, fmt.Errorf("template for schedule %d: %w", scheduleID, ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (o memOps) InsertWorkOrder(ctx context.Context, wo maintenance.WorkOrder) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, ex := range o.st.workOrders {
		if ex.ScheduleID == wo.ScheduleID && ex.DueDate == wo.DueDate {
			return 0, fmt.Errorf("schedule %d due %s: %w", wo.ScheduleID, wo.DueDate, ErrDuplicate)
		}
	}
	o.st.nextWO++
	wo.ID = o.st.nextWO
	o.st.workOrders[wo.ID] = cloneWorkOrder(wo)
	return wo.ID, nil
}

func (o memOps) UpdateLastGenerated(ctx context.Context, scheduleID int64, d maintenance.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, ok := o.st.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
	}
	s.LastGenerated = maintenance.DatePtr(d)
	o.st.schedules[scheduleID] = s
	return nil
}

func (o memOps) SetNotificationSent(ctx context.Context, workOrderID int64, sent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wo, ok := o.st.workOrders[workOrderID]
	if !ok {
		return fmt.Errorf("work order %d: %w", workOrderID, ErrNotFound)
	}
	wo.NotificationSent = sent
	o.st.workOrders[workOrderID] = wo
	return nil
}

func (o memOps) ListOpenWorkOrders(ctx context.Context) ([]maintenance.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]maintenance.WorkOrder, 0)
	for _, wo := range o.st.workOrders {
		if wo.Status == maintenance.StatusOpen {
			out = append(out, cloneWorkOrder(wo))
		}
	}
	sortWorkOrders(out)
	return out, nil
}

// ---- copies ----

func (s memState) clone() memState {
	cp := memState{
		schedules:    make(map[int64]maintenance.Schedule, len(s.schedules)),
		templates:    make(map[int64]maintenance.Template, len(s.templates)),
		workOrders:   make(map[int64]maintenance.WorkOrder, len(s.workOrders)),
		runs:         append([]CycleRun(nil), s.runs...),
		nextSchedule: s.nextSchedule,
		nextTemplate: s.nextTemplate,
		nextWO:       s.nextWO,
	}
	for k, v := range s.schedules {
		cp.schedules[k] = cloneSchedule(v)
	}
	for k, v := range s.templates {
		cp.templates[k] = cloneTemplate(v)
	}
	for k, v := range s.workOrders {
		cp.workOrders[k] = cloneWorkOrder(v)
	}
	return cp
}

func cloneSchedule(s maintenance.Schedule) maintenance.Schedule {
	if s.EndDate != nil {
		s.EndDate = maintenance.DatePtr(*s.EndDate)
	}
	if s.LastGenerated != nil {
		s.LastGenerated = maintenance.DatePtr(*s.LastGenerated)
	}
	s.Recipients = append([]string(nil), s.Recipients...)
	return s
}

func cloneTemplate(t maintenance.Template) maintenance.Template {
	t.EquipmentID = cloneID(t.EquipmentID)
	t.Assignment = maintenance.Assignment{CraftsmanID: cloneID(t.Assignment.CraftsmanID), TeamID: cloneID(t.Assignment.TeamID)}
	t.Tools = append([]string(nil), t.Tools...)
	t.Spares = append([]string(nil), t.Spares...)
	return t
}

func cloneWorkOrder(w maintenance.WorkOrder) maintenance.WorkOrder {
	w.EquipmentID = cloneID(w.EquipmentID)
	w.Assignment = maintenance.Assignment{CraftsmanID: cloneID(w.Assignment.CraftsmanID), TeamID: cloneID(w.Assignment.TeamID)}
	w.Tools = append([]string(nil), w.Tools...)
	w.Spares = append([]string(nil), w.Spares...)
	if w.CompletedDate != nil {
		w.CompletedDate = maintenance.DatePtr(*w.CompletedDate)
	}
	return w
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sortWorkOrders(out []maintenance.WorkOrder) {
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].DueDate.Compare(out[j].DueDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
}
