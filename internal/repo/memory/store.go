// Package memory is an in-process twin of the postgres repositories. All
// repositories handed out by one Store share its state and its lock, so
// cross-table rules (ownership, the single running timer) hold the same way.
package memory

import (
	"sync"

	"github.com/geocoder89/timetracker/internal/domain/job"
	"github.com/geocoder89/timetracker/internal/domain/project"
	"github.com/geocoder89/timetracker/internal/domain/refreshtoken"
	"github.com/geocoder89/timetracker/internal/domain/timeentry"
	"github.com/geocoder89/timetracker/internal/domain/user"
)

type Store struct {
	mu sync.RWMutex

	users      map[string]user.User
	projects   map[string]project.Project
	entries    map[string]timeentry.TimeEntry
	refresh    map[string]refreshtoken.Row
	jobs       map[string]job.Job
	deliveries map[string]deliveryRow
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]user.User),
		projects:   make(map[string]project.Project),
		entries:    make(map[string]timeentry.TimeEntry),
		refresh:    make(map[string]refreshtoken.Row),
		jobs:       make(map[string]job.Job),
		deliveries: make(map[string]deliveryRow),
	}
}

func (s *Store) Users() *UsersRepo                 { return &UsersRepo{s: s} }
func (s *Store) Projects() *ProjectsRepo           { return &ProjectsRepo{s: s} }
func (s *Store) TimeEntries() *TimeEntriesRepo     { return &TimeEntriesRepo{s: s} }
func (s *Store) RefreshTokens() *RefreshTokensRepo { return &RefreshTokensRepo{s: s} }
func (s *Store) Jobs() *JobsRepo                   { return &JobsRepo{s: s} }
func (s *Store) Deliveries() *DeliveriesRepo       { return &DeliveriesRepo{s: s} }
