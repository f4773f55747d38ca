package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultID is the schedule used for devices without one of their own.
const DefaultID = "default"

const secondsPerDay = 24 * 60 * 60

// ErrInvalidSchedule is returned by Compile for a malformed schedule.
var ErrInvalidSchedule = errors.New("schedule: invalid")

// Interval is a time-of-day range in "15:04" or "15:04:05" form. Both ends
// are inclusive. Start after End spans midnight.
type Interval struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Schedule is the configuration form of a weekly calendar.
type Schedule struct {
	ID        string     `yaml:"id" json:"id"`
	Timezone  string     `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Weekdays  []int      `yaml:"weekdays,omitempty" json:"weekdays,omitempty"` // ISO, 1=Monday..7=Sunday; empty means every day
	Intervals []Interval `yaml:"intervals" json:"intervals"`
}

type span struct {
	start, end int // seconds of day
}

func (s span) overnight() bool { return s.start > s.end }

// Compiled is an immutable, validated schedule.
type Compiled struct {
	id       string
	loc      *time.Location
	weekdays [8]bool // index 1..7
	spans    []span
}

// Compile validates s and resolves its timezone. fallbackTZ is used when the
// schedule names none; an empty fallback means UTC.
func Compile(s Schedule, fallbackTZ string) (*Compiled, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidSchedule)
	}

	tz := s.Timezone
	if tz == "" {
		tz = fallbackTZ
	}
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: timezone %q: %v", ErrInvalidSchedule, s.ID, tz, err)
		}
		loc = l
	}

	c := &Compiled{id: s.ID, loc: loc}
	if len(s.Weekdays) == 0 {
		for d := 1; d <= 7; d++ {
			c.weekdays[d] = true
		}
	}
	for _, d := range s.Weekdays {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("%w: %s: weekday %d not in 1..7", ErrInvalidSchedule, s.ID, d)
		}
		c.weekdays[d] = true
	}

	if len(s.Intervals) == 0 {
		return nil, fmt.Errorf("%w: %s: at least one interval is required", ErrInvalidSchedule, s.ID)
	}
	seen := make(map[span]struct{}, len(s.Intervals))
	for i, iv := range s.Intervals {
		start, err := parseClock(iv.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: interval %d start: %v", ErrInvalidSchedule, s.ID, i, err)
		}
		end, err := parseClock(iv.End)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: interval %d end: %v", ErrInvalidSchedule, s.ID, i, err)
		}
		if start == end {
			return nil, fmt.Errorf("%w: %s: interval %d is empty", ErrInvalidSchedule, s.ID, i)
		}
		sp := span{start: start, end: end}
		if _, dup := seen[sp]; dup {
			continue
		}
		seen[sp] = struct{}{}
		c.spans = append(c.spans, sp)
	}
	sort.Slice(c.spans, func(i, j int) bool {
		if c.spans[i].start != c.spans[j].start {
			return c.spans[i].start < c.spans[j].start
		}
		return c.spans[i].end < c.spans[j].end
	})
	return c, nil
}

// ID returns the schedule id.
func (c *Compiled) ID() string { return c.id }

// Location returns the schedule's timezone.
func (c *Compiled) Location() *time.Location { return c.loc }

// Active reports whether t falls inside one of the schedule's windows.
//
// The part of an overnight interval after midnight belongs to the weekday on
// which the interval started: with weekdays [5] and 22:00-06:00, Saturday
// 03:00 is active and Monday 03:00 is not.
func (c *Compiled) Active(t time.Time) bool {
	local := t.In(c.loc)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	today := isoWeekday(local.Weekday())
	yesterday := today - 1
	if yesterday == 0 {
		yesterday = 7
	}

	for _, sp := range c.spans {
		if !sp.overnight() {
			if c.weekdays[today] && sec >= sp.start && sec <= sp.end {
				return true
			}
			continue
		}
		if c.weekdays[today] && sec >= sp.start {
			return true
		}
		if c.weekdays[yesterday] && sec <= sp.end {
			return true
		}
	}
	return false
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
		}
	}
	if s == "24:00" {
		return secondsPerDay - 1, nil
	}
	return 0, fmt.Errorf("time of day %q not in HH:MM[:SS] form", s)
}

// Set is an immutable collection of compiled schedules keyed by id.
type Set struct {
	byID map[string]*Compiled
}

// NewSet indexes schedules by id. Duplicate ids are rejected.
func NewSet(schedules ...*Compiled) (*Set, error) {
	s := &Set{byID: make(map[string]*Compiled, len(schedules))}
	for _, c := range schedules {
		if _, dup := s.byID[c.id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSchedule, c.id)
		}
		s.byID[c.id] = c
	}
	return s, nil
}

// Get returns the schedule with the given id.
func (s *Set) Get(id string) (*Compiled, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byID[id]
	return c, ok
}

// Resolve returns the schedule with the given id, falling back to DefaultID.
func (s *Set) Resolve(id string) (*Compiled, bool) {
	if c, ok := s.Get(id); ok {
		return c, true
	}
	return s.Get(DefaultID)
}

// IDs returns the schedule ids in sorted order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
