package maintenance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSchedule = errors.New("invalid maintenance schedule")
	ErrInvalidTemplate = errors.New("invalid work order template")
	ErrUnknownValue    = errors.New("unknown value")
)

// ---- Enums ----

// FrequencyUnit is the unit of a schedule's recurrence.
type FrequencyUnit string

const (
	UnitDays   FrequencyUnit = "days"
	UnitWeeks  FrequencyUnit = "weeks"
	UnitMonths FrequencyUnit = "months"
)

// ParseFrequencyUnit accepts the persisted form plus singular spellings.
func ParseFrequencyUnit(s string) (FrequencyUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "days", "d":
		return UnitDays, nil
	case "week", "weeks", "w":
		return UnitWeeks, nil
	case "month", "months", "m":
		return UnitMonths, nil
	default:
		return "", fmt.Errorf("frequency unit %q: %w", s, ErrUnknownValue)
	}
}

func (u FrequencyUnit) Valid() bool {
	switch u {
	case UnitDays, UnitWeeks, UnitMonths:
		return true
	}
	return false
}

// Advance moves d forward by n units.
func (u FrequencyUnit) Advance(d Date, n int) (Date, error) {
	switch u {
	case UnitDays:
		return d.AddDays(n), nil
	case UnitWeeks:
		return d.AddDays(7 * n), nil
	case UnitMonths:
		return d.AddMonths(n), nil
	default:
		return Date{}, fmt.Errorf("frequency unit %q: %w", string(u), ErrUnknownValue)
	}
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return "", fmt.Errorf("priority %q: %w", s, ErrUnknownValue)
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of a work order. The engine only ever
// creates StatusOpen; other transitions belong to work-order management.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch norm {
	case "open":
		return StatusOpen, nil
	case "in progress", "inprogress":
		return StatusInProgress, nil
	case "completed", "complete", "done":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("status %q: %w", s, ErrUnknownValue)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether no further work happens on the order.
func (s Status) Closed() bool { return s == StatusCompleted || s == StatusCancelled }

// ---- Assignment ----

// Assignment is either a craftsman, a team, or nobody. Never both.
type Assignment struct {
	CraftsmanID *int64 `json:"craftsman_id,omitempty"`
	TeamID      *int64 `json:"team_id,omitempty"`
}

func AssignCraftsman(id int64) Assignment { return Assignment{CraftsmanID: &id} }
func AssignTeam(id int64) Assignment      { return Assignment{TeamID: &id} }

func (a Assignment) Validate() error {
	if a.CraftsmanID != nil && a.TeamID != nil {
		return errors.New("assignment: craftsman and team are mutually exclusive")
	}
	return nil
}

// Kind returns the persisted assignment_type.
func (a Assignment) Kind() string {
	switch {
	case a.CraftsmanID != nil:
		return "Individual"
	case a.TeamID != nil:
		return "Team"
	default:
		return "Unassigned"
	}
}

// ---- Entities ----

// Schedule is a maintenance schedule: the recurrence rule of one template.
type Schedule struct {
	ID               int64         `json:"id"`
	Frequency        int           `json:"frequency"`
	Unit             FrequencyUnit `json:"frequency_unit"`
	StartDate        Date          `json:"start_date"`
	EndDate          *Date         `json:"end_date,omitempty"`
	LastGenerated    *Date         `json:"last_generated,omitempty"`
	NotifyDaysBefore int           `json:"notification_days_before"`
	Recipients       []string      `json:"notification_recipients,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

func (s Schedule) Validate() error {
	switch {
	case s.Frequency < 1:
		return fmt.Errorf("%w: frequency must be >= 1 (got %d)", ErrInvalidSchedule, s.Frequency)
	case !s.Unit.Valid():
		return fmt.Errorf("%w: unknown frequency unit %q", ErrInvalidSchedule, string(s.Unit))
	case s.StartDate.IsZero():
		return fmt.Errorf("%w: start date required", ErrInvalidSchedule)
	case s.EndDate != nil && s.EndDate.Before(s.StartDate):
		return fmt.Errorf("%w: end date %s before start date %s", ErrInvalidSchedule, s.EndDate, s.StartDate)
	case s.LastGenerated != nil && s.LastGenerated.Before(s.StartDate):
		return fmt.Errorf("%w: last generated %s before start date %s", ErrInvalidSchedule, s.LastGenerated, s.StartDate)
	case s.NotifyDaysBefore < 0:
		return fmt.Errorf("%w: notification days before must be >= 0", ErrInvalidSchedule)
	}
	return nil
}

// Describe renders the recurrence for humans, e.g. "every 2 weeks".
func (s Schedule) Describe() string {
	unit := strings.TrimSuffix(string(s.Unit), "s")
	if s.Frequency == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", s.Frequency, unit)
}

// Template is the work order blueprint owned by a schedule.
type Template struct {
	ID             int64           `json:"id"`
	ScheduleID     int64           `json:"schedule_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	EquipmentID    *int64          `json:"equipment_id,omitempty"`
	Priority       Priority        `json:"priority"`
	EstimatedHours decimal.Decimal `json:"estimated_hours"`
	Assignment     Assignment      `json:"assignment"`
	Tools          []string        `json:"tools_required,omitempty"`
	Spares         []string        `json:"spares_required,omitempty"`
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidTemplate)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTemplate, string(t.Priority))
	}
	if t.EstimatedHours.IsNegative() {
		return fmt.Errorf("%w: estimated hours must be >= 0", ErrInvalidTemplate)
	}
	if err := t.Assignment.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return nil
}

// WorkOrder is a generated work order instance.
type WorkOrder struct {
	ID               int64           `json:"id"`
	ScheduleID       int64           `json:"schedule_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	EquipmentID      *int64          `json:"equipment_id,omitempty"`
	Priority         Priority        `json:"priority"`
	EstimatedHours   decimal.Decimal `json:"estimated_hours"`
	Assignment       Assignment      `json:"assignment"`
	Tools            []string        `json:"tools_required,omitempty"`
	Spares           []string        `json:"spares_required,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Status           Status          `json:"status"`
	DueDate          Date            `json:"due_date"`
	CreatedDate      Date            `json:"created_date"`
	CompletedDate    *Date           `json:"completed_date,omitempty"`
	NotificationSent bool            `json:"notification_sent"`
}

// NewWorkOrder stamps an Open instance out of t.
func NewWorkOrder(t Template, due, created Date) WorkOrder {
	return WorkOrder{
		ScheduleID:     t.ScheduleID,
		Title:          t.Title,
		Description:    t.Description,
		EquipmentID:    copyID(t.EquipmentID),
		Priority:       t.Priority,
		EstimatedHours: t.EstimatedHours,
		Assignment:     Assignment{CraftsmanID: copyID(t.Assignment.CraftsmanID), TeamID: copyID(t.Assignment.TeamID)},
		Tools:          append([]string(nil), t.Tools...),
		Spares:         append([]string(nil), t.Spares...),
		Notes:          fmt.Sprintf("Auto-generated from schedule #%d", t.ScheduleID),
		Status:         StatusOpen,
		DueDate:        due,
		CreatedDate:    created,
	}
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
