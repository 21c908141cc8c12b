package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDate   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	usDate    = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	monthDate = regexp.MustCompile(`(?i)^(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})$`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var clockLayouts = []string{"15:04", "3:04PM", "3:04 PM", "3PM", "3 PM", "15:04:05"}

// DueAt resolves the candidate to an instant in loc. A missing time means
// end of day (23:59).
func (c Candidate) DueAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d, err := parseDate(c.Date)
	if err != nil {
		return time.Time{}, err
	}

	hour, minute := 23, 59
	if c.Time != nil {
		hour, minute, err = parseClock(*c.Time)
		if err != nil {
			return time.Time{}, err
		}
	}

	t := time.Date(y, m, d, hour, minute, 0, 0, loc)
	// time.Date normalizes overflow; reject dates like 02/30.
	if t.Day() != d || t.Month() != m {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", c.Date)
	}
	return t, nil
}

func parseDate(s string) (int, time.Month, int, error) {
	s = strings.TrimSpace(s)

	var y, m, d int
	switch {
	case isoDate.MatchString(s):
		g := isoDate.FindStringSubmatch(s)
		y, m, d = atoi(g[1]), atoi(g[2]), atoi(g[3])
	case usDate.MatchString(s):
		g := usDate.FindStringSubmatch(s)
		m, d, y = atoi(g[1]), atoi(g[2]), atoi(g[3])
	case monthDate.MatchString(s):
		g := monthDate.FindStringSubmatch(s)
		m = int(months[strings.ToLower(g[1])])
		d, y = atoi(g[2]), atoi(g[3])
	default:
		return 0, 0, 0, fmt.Errorf("unrecognized date %q", s)
	}

	if m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, 0, fmt.Errorf("invalid calendar date %q", s)
	}
	return y, time.Month(m), d, nil
}

func parseClock(s string) (int, int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized time %q", s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
