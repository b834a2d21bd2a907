package permissions

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryRepository keeps permissions in a slice per user.
type InMemoryRepository struct {
	mutex sync.RWMutex
	perms map[string][]UserPermission // tenant + user id
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{perms: make(map[string][]UserPermission)}
}

func (r *InMemoryRepository) List(ctx context.Context, tenantID, userID string) ([]UserPermission, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return slices.Clone(r.perms[tenantID+":"+userID]), nil
}

func (r *InMemoryRepository) Grant(ctx context.Context, p UserPermission) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := p.TenantID + ":" + p.UserID
	for _, existing := range r.perms[k] {
		if same(existing, p.TenantID, p.UserID, p.ResourceServerIdentifier, p.PermissionName) {
			return nil
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.perms[k] = append(r.perms[k], p)
	return nil
}

func (r *InMemoryRepository) Revoke(ctx context.Context, tenantID, userID, resourceServer, permissionName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := tenantID + ":" + userID
	r.perms[k] = slices.DeleteFunc(r.perms[k], func(p UserPermission) bool {
		return same(p, tenantID, userID, resourceServer, permissionName)
	})
	return nil
}
