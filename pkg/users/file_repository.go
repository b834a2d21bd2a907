package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const usersFile = "users.json"

// fileUserData represents all users stored in the file
type fileUserData struct {
	Users []User `json:"users"`
}

// FileRepository implements Repository on a JSON file, so users survive a
// restart alongside persistent login sessions.
type FileRepository struct {
	dataDir string
	data    *fileUserData
	mutex   sync.RWMutex
}

// NewFileRepository creates a new file-based user repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir: dataDir,
		data:    &fileUserData{},
	}
	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return repo, nil
}

func (r *FileRepository) index(tenantID, userID string) int {
	return slices.IndexFunc(r.data.Users, func(u User) bool {
		return u.TenantID == tenantID && u.UserID == userID
	})
}

func (r *FileRepository) Get(ctx context.Context, tenantID, userID string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	i := r.index(tenantID, userID)
	if i < 0 {
		return nil, nil
	}
	user := r.data.Users[i]
	return &user, nil
}

func (r *FileRepository) FindByIdentifier(ctx context.Context, tenantID, connection, identifier string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.data.Users {
		if user.matches(tenantID, connection, identifier) {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (r *FileRepository) Create(ctx context.Context, tenantID string, user User) (*User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user = prepare(tenantID, user)
	if r.index(tenantID, user.UserID) >= 0 {
		return nil, fmt.Errorf("user already exists: %s", user.UserID)
	}

	previous := r.data.Users
	r.data.Users = append(slices.Clone(previous), user)
	if err := r.save(); err != nil {
		// Rollback
		r.data.Users = previous
		return nil, fmt.Errorf("failed to save: %w", err)
	}
	return &user, nil
}

func (r *FileRepository) Update(ctx context.Context, tenantID string, user User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.index(tenantID, user.UserID)
	if i < 0 {
		return fmt.Errorf("user not found: %s", user.UserID)
	}
	user.TenantID = tenantID

	previous := r.data.Users
	r.data.Users = slices.Clone(previous)
	r.data.Users[i] = user
	if err := r.save(); err != nil {
		// Rollback
		r.data.Users = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads users from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, usersFile)

	// If file doesn't exist, start with empty data
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, r.data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// save writes users to file atomically
func (r *FileRepository) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, usersFile+".tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, usersFile)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
