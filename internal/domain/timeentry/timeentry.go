package timeentry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	// reserved, nothing produces it yet
	StatusPaused Status = "paused"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusStopped, StatusPaused:
		return true
	default:
		return false
	}
}

// RecentLimit and ListLimit bound the dashboard and list endpoints.
const (
	RecentLimit = 10
	ListLimit   = 50
)

var (
	ErrNotFound       = errors.New("time entry not found")
	ErrAlreadyRunning = errors.New("timer already running")
	ErrProjectMissing = errors.New("project not found for user")
)

type TimeEntry struct {
	ID              string     `json:"id"`
	ProjectID       *string    `json:"projectId"`
	ProjectName     string     `json:"projectName,omitempty"`
	UserID          string     `json:"userId"`
	Description     string     `json:"description"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime"`
	DurationSeconds int        `json:"durationSeconds"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type StartTimerRequest struct {
	ProjectID   *string `json:"projectId" binding:"omitempty,uuid"`
	Description string  `json:"description" binding:"omitempty,max=2000"`
}

type StopTimerRequest struct {
	TimeEntryID string `json:"timeEntryId" binding:"required,uuid"`
}

// NewRunning creates a running entry that started at now.
func NewRunning(userID string, req StartTimerRequest, now time.Time) TimeEntry {
	return TimeEntry{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		UserID:      userID,
		Description: req.Description,
		StartTime:   now,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e TimeEntry) IsRunning() bool {
	return e.Status == StatusRunning && e.EndTime == nil
}

// Recompute refreshes DurationSeconds from the start and end times. It must run
// before every persist.
func (e *TimeEntry) Recompute() {
	if e.EndTime == nil || e.StartTime.IsZero() {
		return
	}
	e.DurationSeconds = DurationSeconds(e.StartTime, *e.EndTime)
}

// Stop closes a running entry at now.
func (e *TimeEntry) Stop(now time.Time) {
	end := now
	e.EndTime = &end
	e.Status = StatusStopped
	e.UpdatedAt = now
	e.Recompute()
}

// DurationSeconds is floor(end-start) in whole seconds, never negative.
func DurationSeconds(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (e TimeEntry) MarshalJSON() ([]byte, error) {
	type alias TimeEntry

	return json.Marshal(struct {
		alias
		DurationFormatted string `json:"durationFormatted"`
		IsRunning         bool   `json:"isRunning"`
	}{
		alias:             alias(e),
		DurationFormatted: FormatClock(e.DurationSeconds),
		IsRunning:         e.IsRunning(),
	})
}
