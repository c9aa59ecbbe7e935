package recurrence

import (
	"sort"

	"cmmsd/internal/maintenance"
)

// Reminder is one "approaching due date" notification to send.
type Reminder struct {
	WorkOrder  maintenance.WorkOrder
	Recipients []string
	DaysLeft   int
}

// CheckApproachingDueDates selects open work orders whose reminder is still
// pending and whose due date falls in [ref, ref+notification_days_before] of
// their schedule. Orders without a known schedule or without recipients are
// left out; they have nobody to notify.
//
// Marking the order as notified after a successful dispatch is the caller's
// job. The result is ordered by due date.
func CheckApproachingDueDates(openWorkOrders []maintenance.WorkOrder, schedules []maintenance.Schedule, ref maintenance.Date) []Reminder {
	byID := make(map[int64]maintenance.Schedule, len(schedules))
	for _, s := range schedules {
		byID[s.ID] = s
	}

	var out []Reminder
	for _, wo := range openWorkOrders {
		if wo.Status != maintenance.StatusOpen || wo.NotificationSent {
			continue
		}
		s, ok := byID[wo.ScheduleID]
		if !ok || len(s.Recipients) == 0 || s.NotifyDaysBefore < 0 {
			continue
		}
		if wo.DueDate.Before(ref) || wo.DueDate.After(ref.AddDays(s.NotifyDaysBefore)) {
			continue
		}
		out = append(out, Reminder{
			WorkOrder:  wo,
			Recipients: append([]string(nil), s.Recipients...),
			DaysLeft:   ref.DaysUntil(wo.DueDate),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WorkOrder.DueDate.Before(out[j].WorkOrder.DueDate)
	})
	return out
}
