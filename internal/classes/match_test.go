package classes

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestMatchDimensions(t *testing.T) {
	t.Parallel()

	warsaw := mustLoc(t, "Europe/Warsaw")
	// Monday 19:00 local.
	start := time.Date(2026, 9, 7, 19, 0, 0, 0, warsaw)
	inst := ClassInstance{
		Key:       "c-1",
		Club:      7,
		Zone:      "10",
		ClassType: "104",
		Trainer:   "185",
		Start:     start,
		FreeSpots: 2,
	}

	window, err := NewClockRange("18:00", "20:00")
	if err != nil {
		t.Fatalf("NewClockRange: %v", err)
	}

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{name: "empty filter matches", f: Filter{}, want: true},
		{
			name: "all dimensions satisfied",
			f: Filter{
				Club:      Exactly[ClubID](7),
				Zone:      Exactly("10"),
				ClassType: Exactly("104"),
				Trainer:   Exactly("185"),
				Days:      Weekdays(time.Monday),
				Window:    window,
			},
			want: true,
		},
		{name: "wrong club", f: Filter{Club: Exactly[ClubID](75)}, want: false},
		{name: "wrong trainer", f: Filter{Trainer: Exactly("186")}, want: false},
		{name: "one-of club set", f: Filter{Club: OneOf[ClubID](7, 75)}, want: true},
		{name: "weekday mismatch", f: Filter{Days: Weekdays(time.Tuesday)}, want: false},
		{name: "window mismatch", f: Filter{Window: mustRange(t, "20:30", "22:00")}, want: false},
		{name: "unknown zone id never matches", f: Filter{Zone: Exactly("no-such-zone")}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(inst, tt.f); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func mustRange(t *testing.T, from, to string) ClockRange {
	t.Helper()
	r, err := NewClockRange(from, to)
	if err != nil {
		t.Fatalf("NewClockRange(%s, %s): %v", from, to, err)
	}
	return r
}

func TestMatchRequiresFreeSpots(t *testing.T) {
	t.Parallel()

	inst := ClassInstance{Key: "c-2", Club: 7, Start: time.Now(), FreeSpots: 0}
	if Matches(inst, Filter{}) {
		t.Fatal("full class must never match, even against an empty filter")
	}
	inst.FreeSpots = 3
	if !Matches(inst, Filter{}) {
		t.Fatal("open class should match the empty filter")
	}
}

func TestMatchUsesClubLocalTime(t *testing.T) {
	t.Parallel()

	// 23:30 local in a UTC+2 zone is 21:30 UTC the same day, but if the
	// instance were (wrongly) evaluated in UTC after a conversion through a
	// naive timestamp, a late-evening class could slip past midnight.
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2026, 9, 7, 23, 30, 0, 0, plus2) // Monday local

	inst := ClassInstance{Key: "c-3", Club: 7, Start: start, FreeSpots: 1}
	f := Filter{
		Days:   Weekdays(time.Monday),
		Window: mustRange(t, "22:00", "23:59"),
	}
	if !Matches(inst, f) {
		t.Fatal("instance must match in club-local time")
	}

	// The same wall-clock instant shifted to a UTC-carrying Start would be
	// Monday 21:30, outside a narrow pre-midnight window only in local terms.
	fLate := Filter{Window: mustRange(t, "23:00", "23:59")}
	if !Matches(inst, fLate) {
		t.Fatal("23:30 local must satisfy a before-midnight window")
	}
	if Matches(ClassInstance{Key: "c-4", Club: 7, Start: start.UTC(), FreeSpots: 1}, fLate) {
		t.Fatal("UTC-normalized start must not satisfy the local window (guards the normalization contract)")
	}
}

func TestMatchIsReferentiallyTransparent(t *testing.T) {
	t.Parallel()

	warsaw := mustLoc(t, "Europe/Warsaw")
	instances := []ClassInstance{
		{Key: "a", Club: 7, Start: time.Date(2026, 9, 7, 9, 0, 0, 0, warsaw), FreeSpots: 1},
		{Key: "b", Club: 7, Start: time.Date(2026, 9, 7, 10, 0, 0, 0, warsaw), FreeSpots: 0},
		{Key: "c", Club: 75, Start: time.Date(2026, 9, 7, 11, 0, 0, 0, warsaw), FreeSpots: 4},
	}
	f := Filter{Club: Exactly[ClubID](7)}

	first := Match(instances, f)
	second := Match(instances, f)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected exactly one match, got %d and %d", len(first), len(second))
	}
	if first[0].Key != second[0].Key {
		t.Fatalf("repeated calls disagree: %s vs %s", first[0].Key, second[0].Key)
	}
}
