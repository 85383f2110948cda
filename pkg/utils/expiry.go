package utils

import (
	"fmt"
	"strings"
	"time"
)

// Eastern is the US market timezone (America/New_York).
var Eastern *time.Location

func init() {
	var err error
	Eastern, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback if the tz database is unavailable. EDT offset is close
		// enough for date arithmetic.
		Eastern = time.FixedZone("ET", -5*60*60)
	}
}

// NowEastern returns the current time in the US market timezone.
func NowEastern() time.Time {
	return time.Now().In(Eastern)
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
}

// ParseExpiry parses a user-supplied expiry expression relative to now.
// Accepted forms: "2025-01-17", "1/17/2025", "01/17", "jan 17", "jan 17 2025",
// "0dte", "today", "tomorrow", "friday" / "this friday" / "next friday".
// Dates without a year resolve to the next occurrence on or after now.
func ParseExpiry(expr string, now time.Time) (time.Time, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	expr = strings.TrimPrefix(expr, "expiring ")
	expr = strings.TrimPrefix(expr, "exp ")
	if expr == "" {
		return time.Time{}, fmt.Errorf("empty expiry")
	}

	now = now.In(Eastern)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, Eastern)

	switch expr {
	case "0dte", "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	// "this friday" / "next friday" / bare weekday.
	wd := expr
	next := false
	if rest, ok := strings.CutPrefix(wd, "this "); ok {
		wd = rest
	} else if rest, ok := strings.CutPrefix(wd, "next "); ok {
		wd = rest
		next = true
	}
	if day, ok := weekdayNames[wd]; ok {
		d := NextWeekday(today, day)
		if next && d.Sub(today) < 7*24*time.Hour {
			d = d.AddDate(0, 0, 7)
		}
		return d, nil
	}

	// ISO and slash formats.
	for _, layout := range []string{"2006-01-02", "1/2/2006", "01/02/2006"} {
		if t, err := time.ParseInLocation(layout, expr, Eastern); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("1/2", expr, Eastern); err == nil {
		return nextOccurrence(t.Month(), t.Day(), today), nil
	}

	// "jan 17" / "jan 17 2025".
	fields := strings.Fields(strings.ReplaceAll(expr, ",", " "))
	if len(fields) >= 2 {
		if month, ok := monthNames[fields[0]]; ok {
			var day, year int
			if _, err := fmt.Sscanf(fields[1], "%d", &day); err == nil && day >= 1 && day <= 31 {
				if len(fields) >= 3 {
					if _, err := fmt.Sscanf(fields[2], "%d", &year); err == nil {
						if year < 100 {
							year += 2000
						}
						return time.Date(year, month, day, 0, 0, 0, 0, Eastern), nil
					}
				}
				return nextOccurrence(month, day, today), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized expiry %q", expr)
}

// NextWeekday returns the next date with the given weekday, on or after from.
func NextWeekday(from time.Time, day time.Weekday) time.Time {
	delta := (int(day) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, delta)
}

// ThirdFriday returns the third Friday of the given month, the standard
// monthly option expiration date.
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, Eastern)
	firstFriday := NextWeekday(first, time.Friday)
	return firstFriday.AddDate(0, 0, 14)
}

// nextOccurrence returns the next month/day on or after today.
func nextOccurrence(month time.Month, day int, today time.Time) time.Time {
	d := time.Date(today.Year(), month, day, 0, 0, 0, 0, Eastern)
	if d.Before(today) {
		d = d.AddDate(1, 0, 0)
	}
	return d
}
