// Package users holds the user records the login flows authenticate.
package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ConnectionEmail = "email"
	ConnectionSMS   = "sms"
)

// User is an identity in a tenant. UserID has the "<provider>|<id>" form.
type User struct {
	UserID        string         `json:"user_id"`
	TenantID      string         `json:"tenant_id"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	Connection    string         `json:"connection"`
	Provider      string         `json:"provider"`
	AppMetadata   map[string]any `json:"app_metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastLogin     *time.Time     `json:"last_login,omitempty"`
}

// Repository stores users. Get and FindByIdentifier return (nil, nil) when
// no user matches.
type Repository interface {
	Get(ctx context.Context, tenantID, userID string) (*User, error)
	FindByIdentifier(ctx context.Context, tenantID, connection, identifier string) (*User, error)
	Create(ctx context.Context, tenantID string, user User) (*User, error)
	Update(ctx context.Context, tenantID string, user User) error
}

func (u User) matches(tenantID, connection, identifier string) bool {
	if u.TenantID != tenantID || u.Connection != connection {
		return false
	}
	return strings.EqualFold(u.Email, identifier) || (u.PhoneNumber != "" && u.PhoneNumber == identifier)
}

// prepare fills the defaults of a new user.
func prepare(tenantID string, user User) User {
	user.TenantID = tenantID
	if user.Provider == "" {
		user.Provider = user.Connection
	}
	if user.UserID == "" {
		user.UserID = user.Provider + "|" + uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return user
}

// InMemoryRepository keeps users in a map.
type InMemoryRepository struct {
	mutex sync.RWMutex
	users map[string]User // keyed by tenant + user id
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[string]User)}
}

func (r *InMemoryRepository) Get(ctx context.Context, tenantID, userID string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, ok := r.users[tenantID+":"+userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *InMemoryRepository) FindByIdentifier(ctx context.Context, tenantID, connection, identifier string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.users {
		if user.matches(tenantID, connection, identifier) {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) Create(ctx context.Context, tenantID string, user User) (*User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user = prepare(tenantID, user)
	k := tenantID + ":" + user.UserID
	if _, exists := r.users[k]; exists {
		return nil, fmt.Errorf("user already exists: %s", user.UserID)
	}
	r.users[k] = user
	return &user, nil
}

func (r *InMemoryRepository) Update(ctx context.Context, tenantID string, user User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := tenantID + ":" + user.UserID
	if _, exists := r.users[k]; !exists {
		return fmt.Errorf("user not found: %s", user.UserID)
	}
	user.TenantID = tenantID
	r.users[k] = user
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
