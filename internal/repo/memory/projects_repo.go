package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/project"
)

type ProjectsRepo struct {
	s *Store
}

func (r *ProjectsRepo) nameTakenLocked(userID, name, exceptID string) bool {
	for _, p := range r.s.projects {
		if p.UserID == userID && p.Name == name && p.ID != exceptID {
			return true
		}
	}
	return false
}

func (r *ProjectsRepo) Create(ctx context.Context, p project.Project) (project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.nameTakenLocked(p.UserID, p.Name, "") {
		return project.Project{}, project.ErrNameTaken
	}

	r.s.projects[p.ID] = p
	return p, nil
}

func (r *ProjectsRepo) ListActive(ctx context.Context, userID string) ([]project.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]project.Project, 0)
	for _, p := range r.s.projects {
		if p.UserID == userID && p.IsActive {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *ProjectsRepo) GetByID(ctx context.Context, id string) (project.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.projects[id]
	if !ok {
		return project.Project{}, project.ErrNotFound
	}
	return p, nil
}

func (r *ProjectsRepo) Update(ctx context.Context, p project.Project) (project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.projects[p.ID]
	if !ok || current.UserID != p.UserID {
		return project.Project{}, project.ErrNotFound
	}

	if r.nameTakenLocked(p.UserID, p.Name, p.ID) {
		return project.Project{}, project.ErrNameTaken
	}

	current.Name = p.Name
	current.Description = p.Description
	current.Color = p.Color
	current.UpdatedAt = time.Now().UTC()

	r.s.projects[p.ID] = current
	return current, nil
}

func (r *ProjectsRepo) Deactivate(ctx context.Context, id, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok || p.UserID != userID {
		return project.ErrNotFound
	}

	p.IsActive = false
	p.UpdatedAt = time.Now().UTC()
	r.s.projects[id] = p
	return nil
}
