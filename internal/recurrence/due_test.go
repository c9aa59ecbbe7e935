package recurrence

import (
	"errors"
	"strings"
	"testing"

	"cmmsd/internal/maintenance"
)

func d(s string) maintenance.Date {
	v, err := maintenance.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return v
}

func dp(s string) *maintenance.Date { return maintenance.DatePtr(d(s)) }

func TestComputeNextDueDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		s    maintenance.Schedule
		want string
	}{
		{"never generated", maintenance.Schedule{Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01")}, "2024-01-01"},
		{"days", maintenance.Schedule{Frequency: 3, Unit: maintenance.UnitDays, StartDate: d("2024-01-01"), LastGenerated: dp("2024-02-27")}, "2024-03-01"},
		{"weeks", maintenance.Schedule{Frequency: 2, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01"), LastGenerated: dp("2024-12-23")}, "2025-01-06"},
		{"month end leap", maintenance.Schedule{Frequency: 1, Unit: maintenance.UnitMonths, StartDate: d("2024-01-31"), LastGenerated: dp("2024-01-31")}, "2024-02-29"},
		{"month end common", maintenance.Schedule{Frequency: 1, Unit: maintenance.UnitMonths, StartDate: d("2023-01-31"), LastGenerated: dp("2023-01-31")}, "2023-02-28"},
		{"quarterly across year", maintenance.Schedule{Frequency: 3, Unit: maintenance.UnitMonths, StartDate: d("2024-01-15"), LastGenerated: dp("2024-11-15")}, "2025-02-15"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeNextDueDate(tc.s, d("2030-01-01"))
			if err != nil {
				t.Fatalf("ComputeNextDueDate: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestComputeNextDueDateMalformed(t *testing.T) {
	t.Parallel()

	bad := []maintenance.Schedule{
		{Frequency: 0, Unit: maintenance.UnitDays, StartDate: d("2024-01-01")},
		{Frequency: 1, Unit: "fortnights", StartDate: d("2024-01-01")},
		{Frequency: 1, Unit: maintenance.UnitDays},
		{Frequency: 1, Unit: maintenance.UnitDays, StartDate: d("2024-01-01"), LastGenerated: dp("2023-12-01")},
	}
	for i, s := range bad {
		if _, err := ComputeNextDueDate(s, d("2024-01-01")); !errors.Is(err, ErrMalformedSchedule) {
			t.Fatalf("case %d: err = %v, want ErrMalformedSchedule", i, err)
		}
	}
}

func TestFindDueSchedules(t *testing.T) {
	t.Parallel()

	schedules := []maintenance.Schedule{
		{ID: 1, Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01")},
		{ID: 2, Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01"), LastGenerated: dp("2024-01-01")},
		{ID: 3, Frequency: 1, Unit: maintenance.UnitDays, StartDate: d("2023-12-01"), EndDate: dp("2024-01-03")},
		{ID: 4, Frequency: 1, Unit: maintenance.UnitDays, StartDate: d("2023-12-01"), EndDate: dp("2024-01-02")},
		{ID: 5, Frequency: 0, Unit: maintenance.UnitDays, StartDate: d("2023-12-01")},
		{ID: 6, Frequency: 1, Unit: maintenance.UnitMonths, StartDate: d("2024-02-01")},
	}
	due, malformed := FindDueSchedules(schedules, d("2024-01-03"))

	var ids []int64
	for _, s := range due {
		ids = append(ids, s.ID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("due ids = %v, want [1 3]", ids)
	}
	if len(malformed) != 1 || malformed[0].ScheduleID != 5 {
		t.Fatalf("malformed = %v", malformed)
	}
	if !strings.Contains(malformed[0].Error(), "schedule 5") {
		t.Fatalf("error text = %q", malformed[0].Error())
	}
}

func TestDueDateForCatchUp(t *testing.T) {
	t.Parallel()

	weekly := maintenance.Schedule{ID: 1, Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01"), LastGenerated: dp("2024-01-01")}
	monthly := maintenance.Schedule{ID: 2, Frequency: 1, Unit: maintenance.UnitMonths, StartDate: d("2024-01-31"), LastGenerated: dp("2024-01-31")}
	never := maintenance.Schedule{ID: 3, Frequency: 10, Unit: maintenance.UnitDays, StartDate: d("2024-01-01")}

	cases := []struct {
		name   string
		s      maintenance.Schedule
		ref    string
		policy CatchUp
		want   string
	}{
		{"weekly latest", weekly, "2024-01-31", CatchUpLatest, "2024-01-29"},
		{"weekly each", weekly, "2024-01-31", CatchUpEach, "2024-01-08"},
		{"weekly on boundary", weekly, "2024-01-08", CatchUpLatest, "2024-01-08"},
		{"monthly latest chains clamp", monthly, "2024-05-01", CatchUpLatest, "2024-04-29"},
		{"monthly each", monthly, "2024-05-01", CatchUpEach, "2024-02-29"},
		{"never generated latest", never, "2024-01-25", CatchUpLatest, "2024-01-21"},
		{"never generated each", never, "2024-01-25", CatchUpEach, "2024-01-01"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DueDateFor(tc.s, d(tc.ref), tc.policy)
			if err != nil {
				t.Fatalf("DueDateFor: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestBuildInstance(t *testing.T) {
	t.Parallel()

	s := maintenance.Schedule{ID: 7, Frequency: 1, Unit: maintenance.UnitWeeks, StartDate: d("2024-01-01")}
	tpl := maintenance.Template{Title: "Grease bearings", Priority: maintenance.PriorityHigh, Tools: []string{"grease gun"}}

	wo, err := BuildInstance(s, tpl, d("2024-01-02"), CatchUpLatest)
	if err != nil {
		t.Fatalf("BuildInstance: %v", err)
	}
	if wo.ScheduleID != 7 || wo.Status != maintenance.StatusOpen || wo.NotificationSent {
		t.Fatalf("unexpected instance: %+v", wo)
	}
	if wo.DueDate.String() != "2024-01-01" || wo.CreatedDate.String() != "2024-01-02" {
		t.Fatalf("dates = due %s created %s", wo.DueDate, wo.CreatedDate)
	}

	if _, err := BuildInstance(s, tpl, d("2023-12-31"), CatchUpLatest); !errors.Is(err, ErrNotDue) {
		t.Fatalf("before start: err = %v, want ErrNotDue", err)
	}
	tpl.Title = ""
	if _, err := BuildInstance(s, tpl, d("2024-01-02"), CatchUpLatest); !errors.Is(err, ErrMalformedSchedule) {
		t.Fatalf("bad template: err = %v, want ErrMalformedSchedule", err)
	}
}

func TestCheckApproachingDueDates(t *testing.T) {
	t.Parallel()

	schedules := []maintenance.Schedule{
		{ID: 1, NotifyDaysBefore: 3, Recipients: []string{"log:ops"}},
		{ID: 2, NotifyDaysBefore: 0, Recipients: []string{"log:ops"}},
		{ID: 3, NotifyDaysBefore: 5},
	}
	open := func(id, sched int64, due string) maintenance.WorkOrder {
		return maintenance.WorkOrder{ID: id, ScheduleID: sched, Status: maintenance.StatusOpen, DueDate: d(due)}
	}
	sent := open(5, 1, "2024-01-11")
	sent.NotificationSent = true
	inProgress := open(6, 1, "2024-01-11")
	inProgress.Status = maintenance.StatusInProgress

	orders := []maintenance.WorkOrder{
		open(1, 1, "2024-01-13"), // ref+3, in window
		open(2, 1, "2024-01-14"), // ref+4, too far
		open(3, 1, "2024-01-09"), // overdue
		open(4, 2, "2024-01-10"), // due today, 0-day window
		sent,
		inProgress,
		open(7, 3, "2024-01-11"),  // no recipients
		open(8, 99, "2024-01-11"), // unknown schedule
	}

	got := CheckApproachingDueDates(orders, schedules, d("2024-01-10"))
	if len(got) != 2 {
		t.Fatalf("got %d reminders, want 2: %+v", len(got), got)
	}
	if got[0].WorkOrder.ID != 4 || got[0].DaysLeft != 0 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].WorkOrder.ID != 1 || got[1].DaysLeft != 3 {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	eq := int64(12)
	wo := maintenance.WorkOrder{Title: "Inspect pump", EquipmentID: &eq, Priority: maintenance.PriorityCritical, DueDate: d("2024-03-01")}

	subj, body := NewOrderMessage(wo)
	if subj != "New Scheduled Work Order: Inspect pump" {
		t.Fatalf("subject = %q", subj)
	}
	for _, want := range []string{"Equipment: #12", "Priority: Critical", "Due Date: 2024-03-01", "log into the CMMS"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}

	subj, body = ReminderMessage(Reminder{WorkOrder: wo, DaysLeft: 1})
	if subj != "Upcoming Work Order Due: Inspect pump" {
		t.Fatalf("subject = %q", subj)
	}
	if !strings.Contains(body, "Due: tomorrow") || !strings.Contains(body, "completed on time") {
		t.Fatalf("reminder body:\n%s", body)
	}
}
