package handlers

import (
	"net/http"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/timeentry"
	"github.com/gin-gonic/gin"
)

// GET /api/time-entries/
func (h *TimerHandler) ListEntries(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	items, err := h.entries.ListRecent(cctx, userID, timeentry.ListLimit)
	if err != nil {
		h.log.ErrorContext(cctx, "list time entries", "err", err)
		RespondInternal(ctx, "Could not list time entries")
		return
	}

	ctx.JSON(http.StatusOK, items)
}
