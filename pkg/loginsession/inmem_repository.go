package loginsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps sessions in a map. Values pass through the same
// JSON encoding the durable backends use, so callers never share maps with
// the store and nothing survives here that would not survive a real write.
type InMemoryRepository struct {
	mutex    sync.RWMutex
	sessions map[string]LoginSession // keyed by tenant + id
	now      func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[string]LoginSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func key(tenantID, id string) string {
	return tenantID + ":" + id
}

func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to encode login session: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode login session: %w", err)
	}
	return out, nil
}

func (r *InMemoryRepository) Create(ctx context.Context, tenantID string, session LoginSession) (*LoginSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if _, exists := r.sessions[key(tenantID, session.ID)]; exists {
		return nil, fmt.Errorf("login session already exists: %s", session.ID)
	}

	stored, err := clone(prepareCreate(tenantID, session, r.now()))
	if err != nil {
		return nil, err
	}
	r.sessions[key(tenantID, stored.ID)] = stored

	out, err := clone(stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, tenantID, id string) (*LoginSession, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, ok := r.sessions[key(tenantID, id)]
	if !ok {
		return nil, nil
	}
	out, err := clone(stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *InMemoryRepository) Update(ctx context.Context, tenantID, id string, patch Patch) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.sessions[key(tenantID, id)]
	if !ok {
		return nil
	}
	if err := checkVersion(&stored, patch); err != nil {
		return err
	}

	updated := stored
	patch.apply(&updated, r.now())
	updated, err := clone(updated)
	if err != nil {
		return err
	}
	r.sessions[key(tenantID, id)] = updated
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, key(tenantID, id))
	return nil
}
