package trigger

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		kind    ScheduleKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "0 * * * *", kind: KindCron, cron: "0 * * * *"},
		{in: "@hourly", kind: KindCron, cron: "@hourly"},
		{in: "cron: 30 6 * * 1-5", kind: KindCron, cron: "30 6 * * 1-5"},
		{in: "@every 1h", kind: KindInterval, every: time.Hour},
		{in: "2h30m", kind: KindInterval, every: 150 * time.Minute},
		{in: "01:00", kind: KindInterval, every: time.Hour},
		{in: "interval: 00:05", kind: KindInterval, every: 5 * time.Minute},
		{in: "every:90s", kind: KindInterval, every: 90 * time.Second},
		{in: "1m", kind: KindInterval, every: time.Minute},
		{in: "30s", wantErr: true},
		{in: "@every 59s", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "*/5 * * * * *", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Every != tc.every || got.Cron != tc.cron {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.in, got)
		}
	}
}
