package project

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultColor = "#3B82F6"

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	UserID      string    `json:"userId"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var (
	ErrNotFound  = errors.New("project not found")
	ErrNameTaken = errors.New("project name already exists")
	ErrForbidden = errors.New("project belongs to another user")
)

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,notblank,max=200"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	Color       string `json:"color" binding:"omitempty,len=7,hexcolor"`
}

// full update payload, mirrors create
type UpdateProjectRequest struct {
	Name        string `json:"name" binding:"required,notblank,max=200"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	Color       string `json:"color" binding:"omitempty,len=7,hexcolor"`
}

func NewFromCreateRequest(userID string, req CreateProjectRequest) Project {
	now := time.Now().UTC()

	color := strings.TrimSpace(req.Color)
	if color == "" {
		color = DefaultColor
	}

	return Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       color,
		UserID:      userID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Apply copies an update payload onto p, keeping the current color when none is sent.
func (p Project) Apply(req UpdateProjectRequest) Project {
	p.Name = strings.TrimSpace(req.Name)
	p.Description = req.Description

	if c := strings.TrimSpace(req.Color); c != "" {
		p.Color = c
	}

	p.UpdatedAt = time.Now().UTC()
	return p
}

// CheckOwner reports ErrForbidden for another user's project and ErrNotFound
// once the project has been deleted.
func (p Project) CheckOwner(userID string) error {
	if p.UserID != userID {
		return ErrForbidden
	}
	if !p.IsActive {
		return ErrNotFound
	}
	return nil
}
