package status

import (
	"fmt"
	"strings"
)

// Display is the label a row shows: signal-lost wins over punctuality.
type Display string

const (
	DisplayAll        Display = "all"
	DisplayOnTime     Display = "on-time"
	DisplayLate       Display = "late"
	DisplaySignalLost Display = "signal-lost"
)

func Effective(p Punctuality, c Connectivity) Display {
	if c == SignalLost {
		return DisplaySignalLost
	}
	if p.Kind == PunctualityLate {
		return DisplayLate
	}
	return DisplayOnTime
}

func (d Display) Severity() Severity {
	switch d {
	case DisplayLate:
		return SeverityWarning
	case DisplayOnTime:
		return SeveritySuccess
	default:
		return SeverityDefault
	}
}

// ParseFilter accepts the filter keys used by the dashboard, including the
// older camelCase ones (onTime, delayed, stale). Empty means all.
func ParseFilter(s string) (Display, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return DisplayAll, nil
	case "on-time", "ontime", "on_time":
		return DisplayOnTime, nil
	case "late", "delayed":
		return DisplayLate, nil
	case "signal-lost", "signal_lost", "stale":
		return DisplaySignalLost, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Matches reports whether a row labelled row passes the filter d.
func (d Display) Matches(row Display) bool {
	return d == DisplayAll || d == row
}
