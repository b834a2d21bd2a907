package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Storage persists workflow states. Load returns (nil, nil) for unknown ids.
// Save advances state.Revision and should fail with an error wrapping
// ErrStateConflict when the stored revision differs from the one the state
// was loaded with.
type Storage interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
}

// ErrStateConflict reports a lost optimistic concurrency race.
var ErrStateConflict = errors.New("workflow state was modified concurrently")

// MemoryStorage keeps JSON encoded states in a map.
type MemoryStorage struct {
	mu     sync.Mutex
	states map[string][]byte
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(ctx context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.states[id]
	if !ok {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	return &state, nil
}

func (m *MemoryStorage) Save(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.states[state.ID]; ok {
		var stored State
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to decode workflow state: %w", err)
		}
		if state.Revision != 0 && stored.Revision != state.Revision {
			return fmt.Errorf("%w: %s", ErrStateConflict, state.ID)
		}
		state.Revision = stored.Revision
	}

	next := *state
	next.Revision++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}
	m.states[state.ID] = data
	state.Revision = next.Revision
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

// Len returns the number of stored states.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
