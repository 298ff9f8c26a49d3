package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/domain/dashboard"
	"github.com/geocoder89/timetracker/internal/domain/timeentry"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/gin-gonic/gin"
)

type TimeEntryStore interface {
	Start(ctx context.Context, e timeentry.TimeEntry) (timeentry.TimeEntry, error)
	Stop(ctx context.Context, userID, id string, now time.Time) (timeentry.TimeEntry, error)
	GetRunning(ctx context.Context, userID string) (timeentry.TimeEntry, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]timeentry.TimeEntry, error)
	StoppedTotals(ctx context.Context, userID string, b dashboard.Boundaries) (dashboard.Totals, error)
}

type TimerHandler struct {
	entries TimeEntryStore
	cache   cache.Cache
	prom    *observability.Prom
	log     *slog.Logger
	now     func() time.Time
}

func NewTimerHandler(entries TimeEntryStore, c cache.Cache, prom *observability.Prom, log *slog.Logger) *TimerHandler {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &TimerHandler{entries: entries, cache: c, prom: prom, log: log, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (h *TimerHandler) WithClock(now func() time.Time) *TimerHandler {
	h.now = now
	return h
}

// POST /api/timer/start/
func (h *TimerHandler) Start(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req timeentry.StartTimerRequest
	if ctx.Request.ContentLength != 0 {
		if !BindJSON(ctx, &req) {
			return
		}
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	e, err := h.entries.Start(cctx, timeentry.NewRunning(userID, req, h.now().UTC()))
	if err != nil {
		switch {
		case errors.Is(err, timeentry.ErrAlreadyRunning):
			h.prom.ObserveTimer("start", "already_running")
			RespondValidation(ctx, "timer_already_running", "You already have a running timer")
		case errors.Is(err, timeentry.ErrProjectMissing):
			h.prom.ObserveTimer("start", "project_missing")
			RespondNotFound(ctx, "Project not found")
		default:
			h.prom.ObserveTimer("start", "error")
			h.log.ErrorContext(cctx, "start timer", "err", err)
			RespondInternal(ctx, "Could not start timer")
		}
		return
	}

	h.prom.ObserveTimer("start", "ok")
	h.invalidateDashboard(cctx, userID)
	h.log.InfoContext(cctx, "timer started", "time_entry_id", e.ID)

	ctx.JSON(http.StatusCreated, e)
}

// POST /api/timer/stop/
func (h *TimerHandler) Stop(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req timeentry.StopTimerRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	e, err := h.entries.Stop(cctx, userID, req.TimeEntryID, h.now().UTC())
	if err != nil {
		if errors.Is(err, timeentry.ErrNotFound) {
			h.prom.ObserveTimer("stop", "not_found")
			RespondNotFound(ctx, "Running time entry not found")
			return
		}
		h.prom.ObserveTimer("stop", "error")
		h.log.ErrorContext(cctx, "stop timer", "time_entry_id", req.TimeEntryID, "err", err)
		RespondInternal(ctx, "Could not stop timer")
		return
	}

	h.prom.ObserveTimer("stop", "ok")
	h.invalidateDashboard(cctx, userID)
	h.log.InfoContext(cctx, "timer stopped", "time_entry_id", e.ID, "duration_seconds", e.DurationSeconds)

	ctx.JSON(http.StatusOK, e)
}

// GET /api/timer/status/
func (h *TimerHandler) Status(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	e, err := h.entries.GetRunning(cctx, userID)
	if err != nil {
		if errors.Is(err, timeentry.ErrNotFound) {
			ctx.JSON(http.StatusOK, gin.H{"isRunning": false, "timeEntry": nil})
			return
		}
		h.log.ErrorContext(cctx, "timer status", "err", err)
		RespondInternal(ctx, "Could not load timer status")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"isRunning": true, "timeEntry": e})
}

func (h *TimerHandler) invalidateDashboard(ctx context.Context, userID string) {
	if err := cache.InvalidateDashboard(ctx, h.cache, userID); err != nil {
		h.log.WarnContext(ctx, "dashboard cache invalidation failed", "user_id", userID, "err", err)
	}
}
