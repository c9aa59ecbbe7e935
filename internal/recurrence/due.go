package recurrence

import (
	"errors"
	"fmt"

	"cmmsd/internal/maintenance"
)

var (
	// ErrMalformedSchedule marks schedule data the engine cannot compute with.
	// It is a data error: the schedule is skipped and reported, never fatal.
	ErrMalformedSchedule = errors.New("malformed schedule")
	// ErrNotDue is returned by generation when the schedule was no longer due
	// once re-read inside the transaction.
	ErrNotDue = errors.New("schedule not due")
)

// CatchUp decides how a schedule that missed several period boundaries
// (the daemon was down) is brought up to date.
type CatchUp string

const (
	// CatchUpLatest collapses missed periods into one instance due on the
	// latest boundary not after the reference date.
	CatchUpLatest CatchUp = "latest"
	// CatchUpEach generates the oldest missed boundary; the backlog drains one
	// instance per cycle.
	CatchUpEach CatchUp = "each"
)

func ParseCatchUp(s string) (CatchUp, error) {
	switch CatchUp(s) {
	case "", CatchUpLatest:
		return CatchUpLatest, nil
	case CatchUpEach:
		return CatchUpEach, nil
	default:
		return "", fmt.Errorf("unknown catch-up policy %q (use latest or each)", s)
	}
}

// ScheduleError reports a schedule skipped because of bad data or a failed
// store operation.
type ScheduleError struct {
	ScheduleID int64
	Err        error
}

func (e ScheduleError) Error() string {
	return fmt.Sprintf("schedule %d: %v", e.ScheduleID, e.Err)
}

func (e ScheduleError) Unwrap() error { return e.Err }

// ComputeNextDueDate returns start_date for a never generated schedule,
// otherwise last_generated advanced by frequency units. Months use calendar
// addition clamped at month end.
//
// The result depends only on schedule state; ref is accepted so callers can
// treat every due-date computation uniformly.
func ComputeNextDueDate(s maintenance.Schedule, ref maintenance.Date) (maintenance.Date, error) {
	_ = ref
	if err := s.Validate(); err != nil {
		return maintenance.Date{}, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	if s.LastGenerated == nil {
		return s.StartDate, nil
	}
	next, err := s.Unit.Advance(*s.LastGenerated, s.Frequency)
	if err != nil {
		return maintenance.Date{}, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	return next, nil
}

// IsDue reports whether s should generate an instance on ref.
func IsDue(s maintenance.Schedule, ref maintenance.Date) (bool, error) {
	next, err := ComputeNextDueDate(s, ref)
	if err != nil {
		return false, err
	}
	if next.After(ref) {
		return false, nil
	}
	if s.EndDate != nil && ref.After(*s.EndDate) {
		return false, nil
	}
	return true, nil
}

// FindDueSchedules splits schedules into the ones due on ref and the ones that
// could not be evaluated. Order follows the input and carries no meaning.
func FindDueSchedules(schedules []maintenance.Schedule, ref maintenance.Date) (due []maintenance.Schedule, malformed []ScheduleError) {
	for _, s := range schedules {
		ok, err := IsDue(s, ref)
		if err != nil {
			malformed = append(malformed, ScheduleError{ScheduleID: s.ID, Err: err})
			continue
		}
		if ok {
			due = append(due, s)
		}
	}
	return due, malformed
}

// DueDateFor returns the due date the next generated instance gets under the
// catch-up policy. The schedule must be due on ref.
func DueDateFor(s maintenance.Schedule, ref maintenance.Date, policy CatchUp) (maintenance.Date, error) {
	next, err := ComputeNextDueDate(s, ref)
	if err != nil {
		return maintenance.Date{}, err
	}
	if policy == CatchUpEach || next.After(ref) {
		return next, nil
	}
	return latestBoundary(s, next, ref), nil
}

// latestBoundary walks period boundaries from next (a boundary <= ref) and
// returns the last one <= ref. Boundaries are chained exactly as successive
// generations would chain them, so month-end clamping carries forward.
func latestBoundary(s maintenance.Schedule, next, ref maintenance.Date) maintenance.Date {
	switch s.Unit {
	case maintenance.UnitDays, maintenance.UnitWeeks:
		step := s.Frequency
		if s.Unit == maintenance.UnitWeeks {
			step *= 7
		}
		n := next.DaysUntil(ref) / step
		return next.AddDays(n * step)
	default:
		cur := next
		for {
			cand, err := s.Unit.Advance(cur, s.Frequency)
			if err != nil || cand.After(ref) {
				return cur
			}
			cur = cand
		}
	}
}

// BuildInstance stamps the work order generated for s on ref. The caller
// persists it and advances last_generated to its due date.
func BuildInstance(s maintenance.Schedule, t maintenance.Template, ref maintenance.Date, policy CatchUp) (maintenance.WorkOrder, error) {
	ok, err := IsDue(s, ref)
	if err != nil {
		return maintenance.WorkOrder{}, err
	}
	if !ok {
		return maintenance.WorkOrder{}, ErrNotDue
	}
	due, err := DueDateFor(s, ref, policy)
	if err != nil {
		return maintenance.WorkOrder{}, err
	}
	if err := t.Validate(); err != nil {
		return maintenance.WorkOrder{}, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	t.ScheduleID = s.ID
	return maintenance.NewWorkOrder(t, due, ref), nil
}
