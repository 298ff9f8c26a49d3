package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/domain/project"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ProjectStore interface {
	Create(ctx context.Context, p project.Project) (project.Project, error)
	ListActive(ctx context.Context, userID string) ([]project.Project, error)
	GetByID(ctx context.Context, id string) (project.Project, error)
	Update(ctx context.Context, p project.Project) (project.Project, error)
	Deactivate(ctx context.Context, id, userID string) error
}

type ProjectsHandler struct {
	projects ProjectStore
	cache    cache.Cache
	log      *slog.Logger
}

func NewProjectsHandler(projects ProjectStore, c cache.Cache, log *slog.Logger) *ProjectsHandler {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProjectsHandler{projects: projects, cache: c, log: log}
}

// GET /api/projects/
func (h *ProjectsHandler) List(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	items, err := h.projects.ListActive(cctx, userID)
	if err != nil {
		h.log.ErrorContext(cctx, "list projects", "err", err)
		RespondInternal(ctx, "Could not list projects")
		return
	}

	ctx.JSON(http.StatusOK, items)
}

// POST /api/projects/
func (h *ProjectsHandler) Create(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req project.CreateProjectRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	p, err := h.projects.Create(cctx, project.NewFromCreateRequest(userID, req))
	if err != nil {
		if errors.Is(err, project.ErrNameTaken) {
			RespondConflict(ctx, "project_name_taken", "You already have a project with this name.")
			return
		}
		h.log.ErrorContext(cctx, "create project", "err", err)
		RespondInternal(ctx, "Could not create project")
		return
	}

	ctx.JSON(http.StatusCreated, p)
}

// loadOwned fetches the active project named by :id and checks ownership.
// It writes the error response itself and reports false on failure.
func (h *ProjectsHandler) loadOwned(ctx *gin.Context, cctx context.Context, userID string) (project.Project, bool) {
	id := ctx.Param("id")

	p, err := h.owned(cctx, id, userID)
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, project.ErrNotFound):
		RespondNotFound(ctx, "Project not found")
	case errors.Is(err, project.ErrForbidden):
		RespondForbidden(ctx, "forbidden", "You do not have permission to access this project.")
	default:
		h.log.ErrorContext(cctx, "get project", "project_id", id, "err", err)
		RespondInternal(ctx, "Could not load project")
	}
	return project.Project{}, false
}

func (h *ProjectsHandler) owned(ctx context.Context, id, userID string) (project.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return project.Project{}, project.ErrNotFound
	}

	p, err := h.projects.GetByID(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	if err := p.CheckOwner(userID); err != nil {
		return project.Project{}, err
	}
	return p, nil
}

// GET /api/projects/:id/
func (h *ProjectsHandler) Get(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	p, ok := h.loadOwned(ctx, cctx, userID)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, p)
}

// PUT /api/projects/:id/
func (h *ProjectsHandler) Update(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req project.UpdateProjectRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	current, ok := h.loadOwned(ctx, cctx, userID)
	if !ok {
		return
	}

	updated, err := h.projects.Update(cctx, current.Apply(req))
	if err != nil {
		switch {
		case errors.Is(err, project.ErrNameTaken):
			RespondConflict(ctx, "project_name_taken", "You already have a project with this name.")
		case errors.Is(err, project.ErrNotFound):
			RespondNotFound(ctx, "Project not found")
		default:
			h.log.ErrorContext(cctx, "update project", "project_id", current.ID, "err", err)
			RespondInternal(ctx, "Could not update project")
		}
		return
	}

	// recent entries on the dashboard carry the project name
	h.invalidateDashboard(cctx, userID)

	ctx.JSON(http.StatusOK, updated)
}

// DELETE /api/projects/:id/
func (h *ProjectsHandler) Delete(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	current, ok := h.loadOwned(ctx, cctx, userID)
	if !ok {
		return
	}

	if err := h.projects.Deactivate(cctx, current.ID, userID); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			RespondNotFound(ctx, "Project not found")
			return
		}
		h.log.ErrorContext(cctx, "deactivate project", "project_id", current.ID, "err", err)
		RespondInternal(ctx, "Could not delete project")
		return
	}

	h.invalidateDashboard(cctx, userID)

	ctx.Status(http.StatusNoContent)
}

func (h *ProjectsHandler) invalidateDashboard(ctx context.Context, userID string) {
	if err := cache.InvalidateDashboard(ctx, h.cache, userID); err != nil {
		h.log.WarnContext(ctx, "dashboard cache invalidation failed", "user_id", userID, "err", err)
	}
}
