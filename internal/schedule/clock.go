package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock supplies the current instant and calendar rules.
type Clock interface {
	Now() time.Time
	IsWeekend(t time.Time) bool
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	loc         *time.Location
	weekendDays map[time.Weekday]bool
}

// NewSystemClock creates a clock for the named timezone. Unknown timezones
// fall back to UTC. With no weekend days given, Saturday and Sunday are used.
func NewSystemClock(timezone string, weekendDays []time.Weekday) *SystemClock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", timezone).Msg("Failed to load timezone, using UTC")
		loc = time.UTC
	}

	if len(weekendDays) == 0 {
		weekendDays = []time.Weekday{time.Saturday, time.Sunday}
	}
	days := make(map[time.Weekday]bool, len(weekendDays))
	for _, d := range weekendDays {
		days[d] = true
	}

	return &SystemClock{loc: loc, weekendDays: days}
}

// Now returns the current time in the clock's location.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// IsWeekend reports whether t falls on a configured weekend day.
func (c *SystemClock) IsWeekend(t time.Time) bool {
	return c.weekendDays[t.In(c.loc).Weekday()]
}

// Location returns the clock's timezone.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}

// Match patterns like "22:15", "06:30"
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseClock parses "HH:MM" into a minute of day.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)

	matches := clockPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid time of day: %q", s)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])

	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour: %d", hour)
	}
	if min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid minute: %d", min)
	}

	return hour*60 + min, nil
}

// FormatClock formats a minute of day as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseWeekday parses an English weekday name, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday: %q", s)
}
