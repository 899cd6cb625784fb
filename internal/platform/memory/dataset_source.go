package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/render"
	"github.com/ion606/workout-api/internal/store"
)

// DatasetSource serves export datasets from a UserStore plus workouts
// added with AddWorkout.
type DatasetSource struct {
	users *UserStore

	mu       sync.RWMutex
	profiles map[uuid.UUID]render.Profile
	workouts map[uuid.UUID][]render.Workout
}

var _ render.DatasetSource = (*DatasetSource)(nil)

// NewDatasetSource creates a source backed by users.
func NewDatasetSource(users *UserStore) *DatasetSource {
	return &DatasetSource{
		users:    users,
		profiles: make(map[uuid.UUID]render.Profile),
		workouts: make(map[uuid.UUID][]render.Workout),
	}
}

// SetProfile overrides the profile derived from the user record.
func (s *DatasetSource) SetProfile(userID uuid.UUID, p render.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
}

// AddWorkout appends a workout to the user's history.
func (s *DatasetSource) AddWorkout(userID uuid.UUID, w render.Workout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts[userID] = append(s.workouts[userID], w)
}

// LoadDataset implements render.DatasetSource.
func (s *DatasetSource) LoadDataset(ctx context.Context, userID uuid.UUID) (*render.Dataset, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, store.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		profile = render.Profile{Email: user.Email, Name: user.Name, MemberSince: user.CreatedAt}
	}

	return &render.Dataset{
		Version:    render.DatasetVersion,
		ExportedAt: time.Now().UTC(),
		Profile:    profile,
		Workouts:   append([]render.Workout(nil), s.workouts[userID]...),
	}, nil
}
