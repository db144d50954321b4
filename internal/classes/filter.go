package classes

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Predicate is a tagged variant over one filter dimension:
// match-any, exactly one value, or one of a set.
//
// The zero value is the match-any predicate, so an unspecified dimension
// vacuously matches without relying on empty-string conventions.
type Predicate[T comparable] struct {
	kind   predKind
	values []T
}

type predKind uint8

const (
	predAny predKind = iota
	predExactly
	predOneOf
)

// AnyValue matches every value of the dimension.
func AnyValue[T comparable]() Predicate[T] { return Predicate[T]{} }

// Exactly matches a single value.
func Exactly[T comparable](v T) Predicate[T] {
	return Predicate[T]{kind: predExactly, values: []T{v}}
}

// OneOf matches any of the given values. An empty set degrades to match-any.
func OneOf[T comparable](vs ...T) Predicate[T] {
	if len(vs) == 0 {
		return Predicate[T]{}
	}
	return Predicate[T]{kind: predOneOf, values: append([]T(nil), vs...)}
}

// IsAny reports whether the predicate is unconstrained.
func (p Predicate[T]) IsAny() bool { return p.kind == predAny }

// Values returns the concrete values the predicate pins down; nil for
// match-any.
func (p Predicate[T]) Values() []T {
	if p.kind == predAny {
		return nil
	}
	return append([]T(nil), p.values...)
}

func (p Predicate[T]) Matches(v T) bool {
	switch p.kind {
	case predAny:
		return true
	case predExactly:
		return p.values[0] == v
	case predOneOf:
		for _, w := range p.values {
			if w == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// WeekdaySet is a bitmask of weekdays. The zero value matches any weekday.
type WeekdaySet uint8

func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) IsAny() bool { return s == 0 }

func (s WeekdaySet) Matches(d time.Weekday) bool {
	if s == 0 {
		return true
	}
	return s&(1<<uint(d)) != 0
}

// ParseWeekdaySet parses the stored "1,2,3" form (Monday=1 .. Sunday=7).
func ParseWeekdaySet(raw string) (WeekdaySet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	var s WeekdaySet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) != 1 || part[0] < '1' || part[0] > '7' {
			return 0, fmt.Errorf("invalid weekday %q (want 1..7)", part)
		}
		n := int(part[0] - '0')
		// Stored Monday=1..Sunday=7; time.Weekday has Sunday=0.
		s |= 1 << uint(time.Weekday(n%7))
	}
	return s, nil
}

func (s WeekdaySet) String() string {
	if s == 0 {
		return "any"
	}
	names := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s&(1<<uint(d)) != 0 {
			names = append(names, d.String()[:3])
		}
	}
	return strings.Join(names, ",")
}

// ClockRange is an inclusive time-of-day window in minutes since midnight.
// The zero value matches any time of day.
type ClockRange struct {
	From int
	To   int
	set  bool
}

// NewClockRange builds a window from "HH:MM" bounds. Either bound may be
// empty: "" means midnight (from) or end of day (to).
func NewClockRange(from, to string) (ClockRange, error) {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		return ClockRange{}, nil
	}
	lo, hi := 0, 24*60-1
	var err error
	if strings.TrimSpace(from) != "" {
		if lo, err = parseClock(from); err != nil {
			return ClockRange{}, err
		}
	}
	if strings.TrimSpace(to) != "" {
		if hi, err = parseClock(to); err != nil {
			return ClockRange{}, err
		}
	}
	if hi < lo {
		return ClockRange{}, fmt.Errorf("time window %s-%s is inverted", from, to)
	}
	return ClockRange{From: lo, To: hi, set: true}, nil
}

func (r ClockRange) IsAny() bool { return !r.set }

func (r ClockRange) Matches(t time.Time) bool {
	if !r.set {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	return m >= r.From && m <= r.To
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// Filter is one saved availability filter belonging to a user.
//
// Dimensions are AND-ed within a filter; a user's filters are OR-ed by the
// orchestrator evaluating each independently. Filters are created and edited
// by the external command interface and are read-only here.
type Filter struct {
	ID     int64
	UserID int64

	Club      Predicate[ClubID]
	Zone      Predicate[string]
	ClassType Predicate[string]
	Trainer   Predicate[string]
	Days      WeekdaySet
	Window    ClockRange

	// Label is a human-readable summary used in notifications ("club / type").
	Label string
}

// SortFilters orders filters deterministically by (user, filter id).
func SortFilters(fs []Filter) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].UserID != fs[j].UserID {
			return fs[i].UserID < fs[j].UserID
		}
		return fs[i].ID < fs[j].ID
	})
}
