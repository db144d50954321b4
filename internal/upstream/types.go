package upstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window bounds the lookahead of one snapshot fetch.
type Window struct {
	From time.Time
	To   time.Time
}

// ---- Wire DTOs (ClientPortal2 shapes) ----

type loginRequest struct {
	RememberMe bool   `json:"RememberMe"`
	Login      string `json:"Login"`
	Password   string `json:"Password"`
}

type loginResponse struct {
	User struct {
		Member struct {
			ID         int64 `json:"Id"`
			HomeClubID int64 `json:"HomeClubId"`
		} `json:"Member"`
	} `json:"User"`
	State string `json:"State"`
}

type dailyClassesRequest struct {
	ClubID      int64   `json:"clubId"`
	Date        string  `json:"date"` // YYYY-MM-DD
	CategoryID  *string `json:"categoryId"`
	TimeTableID *string `json:"timeTableId"`
	TrainerID   *string `json:"trainerId"`
	ZoneID      *string `json:"zoneId"`
}

type dailyClassesResponse struct {
	CalendarData []struct {
		Classes []wireClass `json:"Classes"`
	} `json:"CalendarData"`
}

type wireClass struct {
	ID        int64           `json:"Id"`
	Name      string          `json:"Name"`
	StartTime string          `json:"StartTime"`
	Duration  string          `json:"Duration"` // ISO-8601, e.g. "PT55M"
	Status    string          `json:"Status"`
	ZoneID    string          `json:"ZoneId"`
	Trainer   json.RawMessage `json:"Trainer"` // object {Id,Name} or bare string
	Timetable struct {
		ID string `json:"Id"`
	} `json:"Timetable"`
	BookingIndicator struct {
		Available int `json:"Available"`
		Capacity  int `json:"Capacity"`
	} `json:"BookingIndicator"`
}

const statusBookable = "Bookable"

// trainerRef tolerates both upstream encodings of the Trainer field.
func (w wireClass) trainerRef() (id, name string) {
	if len(w.Trainer) == 0 {
		return "", ""
	}
	var obj struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	}
	if err := json.Unmarshal(w.Trainer, &obj); err == nil && (obj.ID != "" || obj.Name != "") {
		id, name = obj.ID, obj.Name
		if id == "" {
			// Some endpoints only carry the display name; it doubles as the id.
			id = name
		}
		return id, name
	}
	var s string
	if err := json.Unmarshal(w.Trainer, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s
	}
	return "", ""
}

type calendarFiltersRequest struct {
	ClubID int64 `json:"clubId"`
}

// FilterSets is the enumerable filter dimensions served by the upstream
// calendar for one club.
type FilterSets struct {
	Trainers   []FilterOption `json:"TrainerFilters"`
	Categories []FilterOption `json:"CategoryFilters"`
	Zones      []FilterOption `json:"ZoneFilters"`
	Timetables []FilterOption `json:"TimeTableFilters"`
}

type FilterOption struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// ---- Parsing helpers ----

// parseStartTime interprets the upstream naive timestamp in the club's
// location. The portal serves wall-clock times without offsets.
func parseStartTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	// Offset-carrying variants show up on some portal versions; normalize to
	// the club zone so weekday/time-of-day filters stay local.
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unparseable start time %q", raw)
}

var isoDurationRe = regexp.MustCompile(`^P(?:\d+D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration handles the "PT55M" / "PT1H30M" durations the calendar
// uses for class length. Returns 0 for empty input.
func parseISODuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	m := isoDurationRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("unparseable duration %q", raw)
	}
	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		min, _ := strconv.Atoi(m[2])
		d += time.Duration(min) * time.Minute
	}
	if m[3] != "" {
		s, _ := strconv.Atoi(m[3])
		d += time.Duration(s) * time.Second
	}
	return d, nil
}
