package codes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

// InMemoryRepository keeps codes in a map.
type InMemoryRepository struct {
	mutex sync.RWMutex
	codes map[string]Code
	now   func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		codes: make(map[string]Code),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func codeKey(tenantID, codeID string, codeType CodeType) string {
	return tenantID + ":" + string(codeType) + ":" + codeID
}

func (r *InMemoryRepository) Create(ctx context.Context, tenantID string, code Code) (*Code, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	code.TenantID = tenantID
	k := codeKey(tenantID, code.CodeID, code.CodeType)
	if _, exists := r.codes[k]; exists {
		return nil, fmt.Errorf("code already exists")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = r.now()
	}
	r.codes[k] = code
	return &code, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, tenantID, codeID string, codeType CodeType) (*Code, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	code, ok := r.codes[codeKey(tenantID, codeID, codeType)]
	if !ok {
		return nil, nil
	}
	if code.UsedAt != nil {
		usedAt := *code.UsedAt
		code.UsedAt = &usedAt
	}
	return &code, nil
}

func (r *InMemoryRepository) Used(ctx context.Context, tenantID, codeID string, codeType CodeType) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := codeKey(tenantID, codeID, codeType)
	code, ok := r.codes[k]
	if !ok {
		return errors.New(errors.ErrCodeCodeNotFound, "code not found")
	}
	if code.UsedAt != nil {
		return errors.New(errors.ErrCodeCodeUsed, "code already used")
	}
	now := r.now()
	code.UsedAt = &now
	r.codes[k] = code
	return nil
}
