package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/caboose/internal/escalation"
	"github.com/zulandar/caboose/internal/hours"
)

func TestParseLocalTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	got, err := parseLocalTime("2025-03-03 17:55", loc)
	if err != nil {
		t.Fatalf("parseLocalTime: %v", err)
	}
	if got.Hour() != 17 || got.Minute() != 55 || got.Location() != loc {
		t.Errorf("got %v, want 17:55 in %s", got, loc)
	}

	got, err = parseLocalTime("2025-03-03T20:55:00Z", loc)
	if err != nil {
		t.Fatalf("parseLocalTime RFC3339: %v", err)
	}
	if got.Hour() != 17 {
		t.Errorf("RFC3339 input should convert to tenant zone, got %v", got)
	}

	if _, err := parseLocalTime("tomorrow", loc); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestPrintTimetable(t *testing.T) {
	table, err := escalation.New([]time.Duration{10 * time.Minute, time.Hour}, hours.Default())
	if err != nil {
		t.Fatalf("escalation.New: %v", err)
	}
	buf := new(bytes.Buffer)
	// Monday 17:55: the first attempt rolls to Tuesday 08:00, the second
	// follows an hour later.
	printTimetable(buf, table, time.Date(2025, 3, 3, 17, 55, 0, 0, time.UTC))

	out := buf.String()
	for _, want := range []string{
		"business hours: yes",
		"attempt 1  +10m0s    Tue 2025-03-04 08:00 UTC",
		"attempt 2  +1h0m0s   Tue 2025-03-04 09:00 UTC",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("timetable missing %q:\n%s", want, out)
		}
	}
}
