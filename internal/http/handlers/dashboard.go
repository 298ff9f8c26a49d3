package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/domain/dashboard"
	"github.com/geocoder89/timetracker/internal/domain/timeentry"
	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	entries TimeEntryStore
	cache   cache.Cache
	loc     *time.Location
	log     *slog.Logger
	now     func() time.Time
}

func NewDashboardHandler(entries TimeEntryStore, c cache.Cache, loc *time.Location, log *slog.Logger) *DashboardHandler {
	if c == nil {
		c = cache.Noop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &DashboardHandler{entries: entries, cache: c, loc: loc, log: log, now: time.Now}
}

func (h *DashboardHandler) WithClock(now func() time.Time) *DashboardHandler {
	h.now = now
	return h
}

// GET /api/dashboard/
func (h *DashboardHandler) Summary(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	// the generation is read before any data so an invalidation racing with
	// this request retires whatever snapshot it ends up writing
	gen, err := cache.DashboardGeneration(cctx, h.cache, userID)
	cacheable := err == nil
	if err != nil {
		// a broken cache degrades to a recompute
		h.log.WarnContext(cctx, "dashboard cache generation read failed", "err", err)
	}
	key := cache.DashboardKey(userID, gen)

	if cacheable {
		var cached taggedJSON
		hit, err := h.cache.Get(cctx, key, &cached)
		if err != nil {
			h.log.WarnContext(cctx, "dashboard cache read failed", "err", err)
		}
		if hit && cached.ETag != "" {
			ctx.Header("X-Cache", "HIT")
			cached.write(ctx, http.StatusOK)
			return
		}
	}

	now := h.now().UTC()
	bounds := dashboard.BoundariesAt(now, h.loc)

	totals, err := h.entries.StoppedTotals(cctx, userID, bounds)
	if err != nil {
		h.log.ErrorContext(cctx, "dashboard totals", "err", err)
		RespondInternal(ctx, "Could not build dashboard")
		return
	}

	recent, err := h.entries.ListRecent(cctx, userID, timeentry.RecentLimit)
	if err != nil {
		h.log.ErrorContext(cctx, "dashboard recent entries", "err", err)
		RespondInternal(ctx, "Could not build dashboard")
		return
	}

	var running *timeentry.TimeEntry
	e, err := h.entries.GetRunning(cctx, userID)
	switch {
	case err == nil:
		running = &e
	case !errors.Is(err, timeentry.ErrNotFound):
		h.log.ErrorContext(cctx, "dashboard running entry", "err", err)
		RespondInternal(ctx, "Could not build dashboard")
		return
	}

	body, err := newTaggedJSON(dashboard.Build(now, bounds, totals, recent, running))
	if err != nil {
		h.log.ErrorContext(cctx, "dashboard encode", "err", err)
		RespondInternal(ctx, "Could not build dashboard")
		return
	}

	if cacheable {
		if err := h.cache.Set(cctx, key, body); err != nil {
			h.log.WarnContext(cctx, "dashboard cache write failed", "err", err)
		}
	}

	ctx.Header("X-Cache", "MISS")
	body.write(ctx, http.StatusOK)
}
