// Package util holds the duration helpers shared by the diff engines and the
// notification formatters. Reminder thresholds are exchanged as ISO-8601
// duration strings (PT6H, P1D, ...).
package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calendar components are approximated the way the portal's own UI does:
// a month is 30 days, a year is 365.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// ParseISODuration parses an ISO-8601 duration (P[nY][nM][nW][nD][T[nH][nM][nS]])
// into a time.Duration.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			value, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
			}
			num = ""

			var unit time.Duration
			switch {
			case r == 'Y' && !inTime:
				unit = year
			case r == 'M' && !inTime:
				unit = month
			case r == 'W' && !inTime:
				unit = week
			case r == 'D' && !inTime:
				unit = day
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid designator %q in ISO-8601 duration %q", string(r), orig)
			}
			total += time.Duration(value * float64(unit))
		}
	}
	if num != "" {
		return 0, fmt.Errorf("trailing number in ISO-8601 duration %q", orig)
	}
	if total == 0 && !strings.ContainsAny(s, "YMWDHS") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}

	if neg {
		total = -total
	}
	return total, nil
}

// FormatISODuration renders a duration as an ISO-8601 string, largest units
// first, omitting zero components. Sub-second precision is dropped.
func FormatISODuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}

	days := int64(d / day)
	d -= time.Duration(days) * day
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int64(d / time.Second)

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}

// TimeLeft renders the remaining time until deadline as
// "[N months, ][N days, ]HH:MM:SS".
func TimeLeft(now, deadline time.Time) string {
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	months := int64(remaining / month)
	remaining -= time.Duration(months) * month
	days := int64(remaining / day)
	remaining -= time.Duration(days) * day

	hours := int64(remaining / time.Hour)
	remaining -= time.Duration(hours) * time.Hour
	minutes := int64(remaining / time.Minute)
	remaining -= time.Duration(minutes) * time.Minute
	seconds := int64(remaining / time.Second)

	var parts []string
	if months > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", months, plural(months, "month")))
	}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", days, plural(days, "day")))
	}
	parts = append(parts, fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds))

	return strings.Join(parts, ", ")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

// FormatDate renders an event timestamp for notification messages.
func FormatDate(t time.Time) string {
	return t.Format("Mon, Jan 2, 2006, 15:04")
}
