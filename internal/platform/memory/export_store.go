// Package memory provides in-process implementations of the store
// interfaces. They keep the same compare-and-set semantics as the
// PostgreSQL stores and back local development and unit tests.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/store"
)

type tombstone struct {
	userID    uuid.UUID
	retiredAt time.Time
}

// ExportStore is an in-memory store.ExportStore.
type ExportStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]domain.ExportRequest
	tombstones map[string]tombstone
	now        func() time.Time
}

var _ store.ExportStore = (*ExportStore)(nil)

// NewExportStore creates an empty store.
func NewExportStore() *ExportStore {
	return &ExportStore{
		records:    make(map[uuid.UUID]domain.ExportRequest),
		tombstones: make(map[string]tombstone),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for transition and tombstone timestamps.
func (s *ExportStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create implements store.ExportStore.
func (s *ExportStore) Create(_ context.Context, req *domain.ExportRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[req.ID]; exists {
		return fmt.Errorf("%w: export request %s", store.ErrDuplicate, req.ID)
	}
	for _, r := range s.records {
		if r.Secret == req.Secret {
			return fmt.Errorf("%w: export secret", store.ErrDuplicate)
		}
	}
	s.records[req.ID] = clone(*req)
	return nil
}

// GetByID implements store.ExportStore.
func (s *ExportStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ExportRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrExportNotFound
	}
	out := clone(r)
	return &out, nil
}

// Transition implements store.ExportStore.
func (s *ExportStore) Transition(
	_ context.Context,
	id uuid.UUID,
	from, to domain.ExportStatus,
	fields store.TransitionFields,
) (*domain.ExportRequest, error) {
	if err := store.ValidateTransition(from, to, fields); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrExportNotFound
	}
	if r.Status != from {
		return nil, store.ErrAlreadyTransitioned
	}

	r.Status = to
	r.ArtifactPath = fields.ArtifactPath
	r.Error = fields.Error
	r.CompletedAt = copyTime(fields.CompletedAt)
	r.UpdatedAt = s.now()
	if to == domain.ExportStatusProcessing {
		r.Attempts++
	}
	s.records[id] = r

	out := clone(r)
	return &out, nil
}

// FindByOwnerAndSecret implements store.ExportStore.
func (s *ExportStore) FindByOwnerAndSecret(
	_ context.Context,
	userID uuid.UUID,
	secret string,
) (*domain.ExportRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.UserID == userID && subtle.ConstantTimeCompare([]byte(r.Secret), []byte(secret)) == 1 {
			out := clone(r)
			return &out, nil
		}
	}
	return nil, store.ErrExportNotFound
}

// FindLatestByOwner implements store.ExportStore.
func (s *ExportStore) FindLatestByOwner(_ context.Context, userID uuid.UUID) (*domain.ExportRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.ExportRequest
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if latest == nil || r.RequestedAt.After(latest.RequestedAt) {
			c := clone(r)
			latest = &c
		}
	}
	if latest == nil {
		return nil, store.ErrExportNotFound
	}
	return latest, nil
}

// Delete implements store.ExportStore.
func (s *ExportStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.records, id)

	key := store.SecretDigest(r.Secret)
	if _, exists := s.tombstones[key]; !exists {
		s.tombstones[key] = tombstone{userID: r.UserID, retiredAt: s.now()}
	}
	return nil
}

// IsRetired implements store.ExportStore.
func (s *ExportStore) IsRetired(_ context.Context, userID uuid.UUID, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tombstones[store.SecretDigest(secret)]
	return ok && t.userID == userID, nil
}

// PurgeTombstones implements store.ExportStore.
func (s *ExportStore) PurgeTombstones(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, t := range s.tombstones {
		if t.retiredAt.Before(before) {
			delete(s.tombstones, key)
			n++
		}
	}
	return n, nil
}

// FindExpired implements store.ExportStore. Each iteration works on a
// snapshot taken when it starts.
func (s *ExportStore) FindExpired(_ context.Context, now time.Time) iter.Seq2[*domain.ExportRequest, error] {
	return func(yield func(*domain.ExportRequest, error) bool) {
		s.mu.Lock()
		var expired []domain.ExportRequest
		for _, r := range s.records {
			if r.Expired(now) {
				expired = append(expired, clone(r))
			}
		}
		s.mu.Unlock()

		sort.Slice(expired, func(i, j int) bool {
			if expired[i].ExpiresAt.Equal(expired[j].ExpiresAt) {
				return expired[i].ID.String() < expired[j].ID.String()
			}
			return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
		})

		for i := range expired {
			if !yield(&expired[i], nil) {
				return
			}
		}
	}
}

// FindStale implements store.ExportStore.
func (s *ExportStore) FindStale(
	_ context.Context,
	status domain.ExportStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.ExportRequest, error) {
	s.mu.Lock()
	var stale []domain.ExportRequest
	for _, r := range s.records {
		if r.Status == status && r.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, clone(r))
		}
	}
	s.mu.Unlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	out := make([]*domain.ExportRequest, len(stale))
	for i := range stale {
		out[i] = &stale[i]
	}
	return out, nil
}

// Put stores req as is, bypassing validation and transitions. Test setup only.
func (s *ExportStore) Put(req domain.ExportRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[req.ID] = clone(req)
}

// Len returns the number of stored requests.
func (s *ExportStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func clone(r domain.ExportRequest) domain.ExportRequest {
	r.CompletedAt = copyTime(r.CompletedAt)
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
