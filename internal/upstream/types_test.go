package upstream

import (
	"testing"
	"time"
)

func TestParseISODuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "PT55M", want: 55 * time.Minute},
		{raw: "PT1H30M", want: 90 * time.Minute},
		{raw: "PT2H", want: 2 * time.Hour},
		{raw: "PT45S", want: 45 * time.Second},
		{raw: "55 minutes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseISODuration(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseISODuration(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseISODuration(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("parseISODuration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseStartTimeUsesClubLocation(t *testing.T) {
	t.Parallel()

	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	got, err := parseStartTime("2026-09-07T19:00:00", warsaw)
	if err != nil {
		t.Fatalf("parseStartTime: %v", err)
	}
	if got.Location() != warsaw {
		t.Fatalf("location = %v, want %v", got.Location(), warsaw)
	}
	if got.Hour() != 19 || got.Weekday() != time.Monday {
		t.Fatalf("unexpected local time: %v", got)
	}

	// Offset-carrying timestamps are normalized into the club zone.
	got, err = parseStartTime("2026-09-07T17:00:00Z", warsaw)
	if err != nil {
		t.Fatalf("parseStartTime rfc3339: %v", err)
	}
	if got.Hour() != 19 {
		t.Fatalf("expected 19:00 Warsaw, got %v", got)
	}

	if _, err := parseStartTime("yesterday", warsaw); err == nil {
		t.Fatal("expected error for junk timestamp")
	}
}

func TestTrainerRefVariants(t *testing.T) {
	t.Parallel()

	var w wireClass
	w.Trainer = []byte(`{"Id":"185","Name":"ADAM"}`)
	if id, name := w.trainerRef(); id != "185" || name != "ADAM" {
		t.Fatalf("object form: got (%q, %q)", id, name)
	}

	w.Trainer = []byte(`"EWA"`)
	if id, name := w.trainerRef(); id != "EWA" || name != "EWA" {
		t.Fatalf("string form: got (%q, %q)", id, name)
	}

	w.Trainer = []byte(`{"Name":"ONLY NAME"}`)
	if id, _ := w.trainerRef(); id != "ONLY NAME" {
		t.Fatalf("name-only form: id = %q", id)
	}

	w.Trainer = nil
	if id, name := w.trainerRef(); id != "" || name != "" {
		t.Fatalf("empty form: got (%q, %q)", id, name)
	}
}
