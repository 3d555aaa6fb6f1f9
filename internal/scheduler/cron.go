package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule yields fire times.
type Schedule interface {
	// Next returns the first fire time strictly after t, or the zero time
	// when there is none.
	Next(t time.Time) time.Time
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

type fieldBounds struct {
	name     string
	min, max int
}

var (
	minuteBounds = fieldBounds{"minute", 0, 59}
	hourBounds   = fieldBounds{"hour", 0, 23}
	domBounds    = fieldBounds{"day-of-month", 1, 31}
	monthBounds  = fieldBounds{"month", 1, 12}
	dowBounds    = fieldBounds{"day-of-week", 0, 7}
)

// parseCronField parses one field: "*", "5", "1,15", "9-17", "*/15", "0-30/10".
func parseCronField(field string, b fieldBounds) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid %s step %q", b.name, s)
			}
			step = n
			part = base
		}

		lo, hi := b.min, b.max
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			from, to, _ := strings.Cut(part, "-")
			var err error
			if lo, err = strconv.Atoi(from); err != nil {
				return cronField{}, fmt.Errorf("invalid %s value %q: %w", b.name, from, err)
			}
			if hi, err = strconv.Atoi(to); err != nil {
				return cronField{}, fmt.Errorf("invalid %s value %q: %w", b.name, to, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid %s value %q: %w", b.name, part, err)
			}
			lo, hi = v, v
			if step > 1 {
				hi = b.max
			}
		}

		if lo < b.min || hi > b.max || lo > hi {
			return cronField{}, fmt.Errorf("%s range %d-%d outside %d-%d", b.name, lo, hi, b.min, b.max)
		}
		for v := lo; v <= hi; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

// Cron is a parsed 5-field cron expression evaluated in a fixed location.
type Cron struct {
	expr       string
	loc        *time.Location
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// ParseCron parses "minute hour day-of-month month day-of-week". A nil loc
// means UTC. Day-of-week accepts 0 or 7 for Sunday.
func ParseCron(expr string, loc *time.Location) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	c := &Cron{expr: expr, loc: loc}
	targets := []struct {
		dst *cronField
		b   fieldBounds
	}{
		{&c.minute, minuteBounds},
		{&c.hour, hourBounds},
		{&c.dayOfMonth, domBounds},
		{&c.month, monthBounds},
		{&c.dayOfWeek, dowBounds},
	}
	for i, t := range targets {
		f, err := parseCronField(fields[i], t.b)
		if err != nil {
			return nil, fmt.Errorf("parsing cron %q: %w", expr, err)
		}
		*t.dst = f
	}
	if c.dayOfWeek.values[7] {
		c.dayOfWeek.values[0] = true
	}
	return c, nil
}

func (c *Cron) String() string {
	return c.expr + " (" + c.loc.String() + ")"
}

// matchesDay follows cron semantics: when both day fields are restricted a
// day matches if either does.
func (c *Cron) matchesDay(t time.Time) bool {
	dom := c.dayOfMonth.matches(t.Day())
	dow := c.dayOfWeek.matches(int(t.Weekday()))
	if !c.dayOfMonth.wildcard && !c.dayOfWeek.wildcard {
		return dom || dow
	}
	return dom && dow
}

func (c *Cron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.month.matches(int(t.Month())) &&
		c.matchesDay(t)
}

// Next searches minute by minute up to five years ahead, which covers
// expressions such as "0 0 29 2 *".
func (c *Cron) Next(after time.Time) time.Time {
	candidate := after.In(c.loc).Truncate(time.Minute).Add(time.Minute)
	limit := candidate.AddDate(5, 0, 0)

	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}
}

// Every fires at a fixed interval measured from the previous computation.
type Every time.Duration

// Next returns t plus the interval.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Parse builds a Schedule from expr: "@every <duration>" or a cron expression.
func Parse(expr string, loc *time.Location) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		return Every(d), nil
	}
	switch expr {
	case "@daily", "@midnight":
		expr = "0 0 * * *"
	case "@hourly":
		expr = "0 * * * *"
	}
	return ParseCron(expr, loc)
}
