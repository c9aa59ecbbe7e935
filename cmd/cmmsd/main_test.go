package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmmsd/internal/maintenance"
)

func TestScheduleInputBuild(t *testing.T) {
	t.Parallel()
	today := maintenance.NewDate(2024, 3, 1)

	tests := []struct {
		name    string
		in      scheduleInput
		wantErr string
		check   func(t *testing.T, s maintenance.Schedule, tpl maintenance.Template)
	}{
		{
			name: "defaults to today",
			in:   scheduleInput{title: "Check oil", every: 1, unit: "weeks"},
			check: func(t *testing.T, s maintenance.Schedule, tpl maintenance.Template) {
				if s.StartDate != today || s.Unit != maintenance.UnitWeeks || tpl.Priority != maintenance.PriorityMedium {
					t.Fatalf("schedule=%+v template=%+v", s, tpl)
				}
			},
		},
		{
			name: "full",
			in: scheduleInput{
				title: " Grease bearings ", priority: "high", hours: "1.50", team: 3,
				tools: []string{"grease gun"}, every: 2, unit: "months",
				start: "2024-01-31", end: "2024-12-31", notifyDays: 2,
				recipients: []string{"ops@example.com", " ", "log:ops"},
			},
			check: func(t *testing.T, s maintenance.Schedule, tpl maintenance.Template) {
				if s.Frequency != 2 || s.StartDate != maintenance.NewDate(2024, 1, 31) || s.EndDate == nil {
					t.Fatalf("schedule = %+v", s)
				}
				if len(s.Recipients) != 2 {
					t.Fatalf("recipients = %q", s.Recipients)
				}
				if tpl.Title != "Grease bearings" || tpl.EstimatedHours.String() != "1.5" || tpl.Assignment.Kind() != "Team" {
					t.Fatalf("template = %+v", tpl)
				}
			},
		},
		{name: "both assignees", in: scheduleInput{title: "x", every: 1, unit: "days", craftsman: 1, team: 2}, wantErr: "mutually exclusive"},
		{name: "bad unit", in: scheduleInput{title: "x", every: 1, unit: "fortnights"}, wantErr: "fortnights"},
		{name: "bad hours", in: scheduleInput{title: "x", every: 1, unit: "days", hours: "two"}, wantErr: "--hours"},
		{name: "zero frequency", in: scheduleInput{title: "x", every: 0, unit: "days"}, wantErr: "frequency"},
		{name: "end before start", in: scheduleInput{title: "x", every: 1, unit: "days", start: "2024-02-01", end: "2024-01-01"}, wantErr: "end date"},
		{name: "no title", in: scheduleInput{every: 1, unit: "days"}, wantErr: "title"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, tpl, err := tt.in.build(today)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			tt.check(t, s, tpl)
		})
	}
}

func TestWorkOrderQueryFilter(t *testing.T) {
	t.Parallel()
	f, err := workOrderQuery{status: "in-progress", schedule: 4, dueBefore: "2024-05-01", limit: 10}.filter()
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.Status != maintenance.StatusInProgress || f.ScheduleID != 4 || f.DueBefore == nil || f.Limit != 10 {
		t.Fatalf("filter = %+v", f)
	}
	if _, err := (workOrderQuery{status: "paused"}).filter(); err == nil {
		t.Fatal("expected status error")
	}
	if _, err := (workOrderQuery{dueBefore: "May 1"}).filter(); err == nil {
		t.Fatal("expected date error")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLIScheduleCycleWorkOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cmmsd.yaml")
	cfg := "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "cmmsd.db") + "\nengine:\n  timezone: UTC\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	base := []string{"--config", cfgPath, "--env-file", ""}
	run := func(args ...string) string {
		t.Helper()
		out, err := runCLI(t, append(append([]string(nil), base...), args...)...)
		if err != nil {
			t.Fatalf("cmmsd %s: %v\n%s", strings.Join(args, " "), err, out)
		}
		return out
	}

	if out := run("config", "check"); !strings.Contains(out, "ok") {
		t.Fatalf("config check = %q", out)
	}

	out := run("schedule", "add", "--title", "Inspect pump P-101", "--every", "1", "--unit", "weeks",
		"--start", "2024-01-01", "--priority", "high", "--hours", "2")
	if !strings.Contains(out, "schedule #1 created") || !strings.Contains(out, "every week") {
		t.Fatalf("schedule add = %q", out)
	}

	var rows []scheduleRow
	if err := json.Unmarshal([]byte(run("schedule", "list", "--json")), &rows); err != nil {
		t.Fatalf("schedule list json: %v", err)
	}
	if len(rows) != 1 || rows[0].Template.Title != "Inspect pump P-101" || rows[0].NextDue == nil {
		t.Fatalf("rows = %+v", rows)
	}
	if out := run("schedule", "list"); !strings.Contains(out, "Inspect pump P-101") {
		t.Fatalf("schedule table = %q", out)
	}

	var rep struct {
		Generated int    `json:"generated"`
		Trigger   string `json:"trigger"`
	}
	if err := json.Unmarshal([]byte(run("cycle", "--date", "2024-01-08")), &rep); err != nil {
		t.Fatalf("cycle json: %v", err)
	}
	if rep.Generated != 1 || rep.Trigger != "cli" {
		t.Fatalf("report = %+v", rep)
	}
	// Same reference date again: nothing new is due.
	if err := json.Unmarshal([]byte(run("cycle", "--date", "2024-01-08")), &rep); err != nil {
		t.Fatalf("cycle json: %v", err)
	}
	if rep.Generated != 0 {
		t.Fatalf("second cycle generated %d", rep.Generated)
	}

	var wos []maintenance.WorkOrder
	if err := json.Unmarshal([]byte(run("workorder", "list", "--json", "--status", "open")), &wos); err != nil {
		t.Fatalf("workorder list json: %v", err)
	}
	if len(wos) != 1 || wos[0].DueDate != maintenance.NewDate(2024, 1, 8) {
		t.Fatalf("work orders = %+v", wos)
	}

	run("workorder", "status", "1", "completed", "--date", "2024-01-09")
	if err := json.Unmarshal([]byte(run("workorder", "list", "--json")), &wos); err != nil {
		t.Fatalf("workorder list json: %v", err)
	}
	if len(wos) != 1 || wos[0].Status != maintenance.StatusCompleted || wos[0].CompletedDate == nil {
		t.Fatalf("work order after completion = %+v", wos[0])
	}

	if _, err := runCLI(t, append(base, "workorder", "status", "99", "completed")...); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestCLIConfigExampleAndVersion(t *testing.T) {
	t.Parallel()
	out, err := runCLI(t, "config", "example", "--env-file", "")
	if err != nil || !strings.Contains(out, "storage:") {
		t.Fatalf("config example = %q, %v", out, err)
	}
	out, err = runCLI(t, "version", "--env-file", "")
	if err != nil || !strings.HasPrefix(out, "cmmsd ") {
		t.Fatalf("version = %q, %v", out, err)
	}
}

func TestCLIRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cmmsd.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: cassandra\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "--config", path, "--env-file", "", "config", "check"); err == nil {
		t.Fatal("expected validation error")
	}
}
