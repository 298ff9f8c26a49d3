package timeentry

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationSeconds_Floors(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{name: "exact", end: start.Add(90 * time.Minute), want: 5400},
		{name: "fractional_truncated", end: start.Add(10*time.Second + 999*time.Millisecond), want: 10},
		{name: "negative_clamped", end: start.Add(-time.Second), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DurationSeconds(start, tt.end); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStop_RecomputesDuration(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	e := NewRunning("u1", StartTimerRequest{Description: "write docs"}, start)

	if !e.IsRunning() {
		t.Fatalf("new entry should be running")
	}

	e.Stop(start.Add(time.Hour + 30*time.Second))

	if e.IsRunning() {
		t.Fatalf("stopped entry should not be running")
	}
	if e.Status != StatusStopped {
		t.Fatalf("status = %s, want stopped", e.Status)
	}
	if e.DurationSeconds != 3630 {
		t.Fatalf("duration = %d, want 3630", e.DurationSeconds)
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(3725); got != "01:02:05" {
		t.Fatalf("got %q", got)
	}
	if got := FormatClock(0); got != "00:00:00" {
		t.Fatalf("got %q", got)
	}
}

func TestMarshalJSON_AddsDerivedFields(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	e := NewRunning("u1", StartTimerRequest{}, start)

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out["isRunning"] != true {
		t.Fatalf("isRunning = %v", out["isRunning"])
	}
	if out["durationFormatted"] != "00:00:00" {
		t.Fatalf("durationFormatted = %v", out["durationFormatted"])
	}
	if out["status"] != "running" {
		t.Fatalf("status = %v", out["status"])
	}
}

func TestStatusIsValid(t *testing.T) {
	if !StatusPaused.IsValid() {
		t.Fatalf("paused is part of the vocabulary")
	}
	if Status("archived").IsValid() {
		t.Fatalf("unknown status should be invalid")
	}
}
