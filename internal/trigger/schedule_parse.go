package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinInterval is the shortest allowed interval between cycles.
const MinInterval = time.Minute

type ScheduleKind int

const (
	KindCron ScheduleKind = iota
	KindInterval
)

// ParsedSchedule is a normalized cycle schedule.
//
// Accepted forms:
//   - cron: "0 * * * *", "30 6 * * 1-5", "@hourly", "@daily"
//   - interval: "@every 1h", "1h30m", "01:00" (HH:MM)
//   - prefixes "cron:", "interval:" and "every:" force the kind
type ParsedSchedule struct {
	Kind  ScheduleKind
	Cron  string
	Every time.Duration
}

func (p ParsedSchedule) String() string {
	if p.Kind == KindInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses raw into a cron expression or an interval. Intervals
// shorter than MinInterval are rejected.
func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSchedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCron(expr)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.HasPrefix(low, "@every"):
		return parseInterval(s[len("@every"):])
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if reHHMM.MatchString(s) {
		return parseInterval(s)
	}
	if _, err := time.ParseDuration(s); err == nil {
		return parseInterval(s)
	}
	return ParsedSchedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 * * * *', HH:MM like '01:00', or duration like '1h')",
		raw,
	)
}

func parseCron(expr string) (ParsedSchedule, error) {
	if strings.HasPrefix(strings.ToLower(expr), "@every") {
		return parseInterval(expr[len("@every"):])
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSchedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return ParsedSchedule{Kind: KindCron, Cron: expr}, nil
}

func parseInterval(v string) (ParsedSchedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSchedule{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSchedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return ParsedSchedule{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '1h')", v)
		}
	}
	if d < MinInterval {
		return ParsedSchedule{}, fmt.Errorf("interval %s is below the minimum of %s", d, MinInterval)
	}
	return ParsedSchedule{Kind: KindInterval, Every: d}, nil
}
