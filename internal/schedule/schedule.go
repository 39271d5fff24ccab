// Package schedule parses report schedules: a cron expression understood by
// gronx, or "@every <duration>".
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
)

type Schedule struct {
	Kind     string        `json:"kind"`
	CronExpr string        `json:"cron_expr,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
}

// Parse accepts "@every 10s" style intervals and anything gronx validates,
// including its @hourly style tags.
func Parse(raw string) (*Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(raw, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive: %s", d)
		}
		return &Schedule{Kind: KindInterval, Interval: d}, nil
	}

	if !gronx.New().IsValid(raw) {
		return nil, fmt.Errorf("invalid schedule: not an @every interval or cron expression: %s", raw)
	}
	return &Schedule{Kind: KindCron, CronExpr: raw}, nil
}

// Next returns the first run strictly after t.
func (s *Schedule) Next(t time.Time) (time.Time, error) {
	switch s.Kind {
	case KindInterval:
		return t.Add(s.Interval), nil
	case KindCron:
		return gronx.NextTickAfter(s.CronExpr, t, false)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

// String returns a human-readable description.
func (s *Schedule) String() string {
	switch s.Kind {
	case KindCron:
		if strings.HasPrefix(s.CronExpr, "@") {
			return s.CronExpr
		}
		return "Cron: " + s.CronExpr
	case KindInterval:
		d := s.Interval
		switch {
		case d%time.Hour == 0:
			if h := int(d.Hours()); h != 1 {
				return fmt.Sprintf("Every %d hours", h)
			}
			return "Every hour"
		case d%time.Minute == 0:
			if m := int(d.Minutes()); m != 1 {
				return fmt.Sprintf("Every %d minutes", m)
			}
			return "Every minute"
		case d%time.Second == 0:
			if n := int(d.Seconds()); n != 1 {
				return fmt.Sprintf("Every %d seconds", n)
			}
			return "Every second"
		default:
			return "Every " + d.String()
		}
	default:
		return s.Kind
	}
}
