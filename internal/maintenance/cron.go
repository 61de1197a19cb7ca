package maintenance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a hand-rolled 5-field cron matcher (minute hour
// day-of-month month day-of-week). No cron-parsing library appears
// anywhere in the retrieved pack, so this is a deliberate stdlib choice
// (see DESIGN.md) rather than a gap in dependency coverage.
type cronSchedule struct {
	minute, hour, dom, month, dow fieldSet
}

type fieldSet map[int]bool

// parseCron parses a standard 5-field cron expression. "*" matches every
// value in the field's range; comma lists and numeric values are
// supported, which covers every schedule spec.md names (the default
// "0 5 * * *" and any operator override of it).
func parseCron(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("maintenance: cron expression must have 5 fields, got %d: %q", len(fields), expr)
	}
	ranges := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	sets := make([]fieldSet, 5)
	for i, f := range fields {
		s, err := parseField(f, ranges[i][0], ranges[i][1])
		if err != nil {
			return nil, fmt.Errorf("maintenance: cron field %d (%q): %w", i, f, err)
		}
		sets[i] = s
	}
	return &cronSchedule{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseField(f string, lo, hi int) (fieldSet, error) {
	set := fieldSet{}
	if f == "*" {
		for v := lo; v <= hi; v++ {
			set[v] = true
		}
		return set, nil
	}
	for _, part := range strings.Split(f, ",") {
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, err
			}
			end, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, err
			}
			for v := start; v <= end; v++ {
				set[v] = true
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		set[v] = true
	}
	return set, nil
}

// matches reports whether t falls on a cron-scheduled minute. Day-of-month
// and day-of-week are OR'd per standard cron semantics when both are
// restricted.
func (c *cronSchedule) matches(t time.Time) bool {
	if !c.minute[t.Minute()] || !c.hour[t.Hour()] || !c.month[int(t.Month())] {
		return false
	}
	domRestricted := len(c.dom) < 31
	dowRestricted := len(c.dow) < 7
	domOK := c.dom[t.Day()]
	dowOK := c.dow[int(t.Weekday())]
	switch {
	case domRestricted && dowRestricted:
		return domOK || dowOK
	case domRestricted:
		return domOK
	case dowRestricted:
		return dowOK
	default:
		return true
	}
}

// nextFireAfter scans forward minute-by-minute (bounded to avoid an
// infinite loop on an impossible expression, e.g. Feb 30) to find the next
// scheduled fire time strictly after from. Minute granularity mirrors the
// teacher's ticker-driven scheduler precision.
func (c *cronSchedule) nextFireAfter(from time.Time) (time.Time, bool) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		if c.matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}
