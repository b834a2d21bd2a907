package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const permissionsFile = "user_permissions.json"

// filePermissionData represents all permissions stored in the file
type filePermissionData struct {
	Permissions []UserPermission `json:"permissions"`
}

// FileRepository implements Repository using file-based storage
type FileRepository struct {
	dataDir string
	data    *filePermissionData
	mutex   sync.RWMutex
}

// NewFileRepository creates a new file-based permission repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir: dataDir,
		data:    &filePermissionData{},
	}
	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return repo, nil
}

func (r *FileRepository) List(ctx context.Context, tenantID, userID string) ([]UserPermission, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := []UserPermission{}
	for _, p := range r.data.Permissions {
		if p.TenantID == tenantID && p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *FileRepository) Grant(ctx context.Context, p UserPermission) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.data.Permissions {
		if same(existing, p.TenantID, p.UserID, p.ResourceServerIdentifier, p.PermissionName) {
			return nil
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	previous := r.data.Permissions
	r.data.Permissions = append(slices.Clone(previous), p)
	if err := r.save(); err != nil {
		// Rollback
		r.data.Permissions = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileRepository) Revoke(ctx context.Context, tenantID, userID, resourceServer, permissionName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.data.Permissions
	r.data.Permissions = slices.DeleteFunc(slices.Clone(previous), func(p UserPermission) bool {
		return same(p, tenantID, userID, resourceServer, permissionName)
	})
	if err := r.save(); err != nil {
		// Rollback
		r.data.Permissions = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads permissions from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, permissionsFile)

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

// save writes permissions to file atomically
func (r *FileRepository) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, permissionsFile+".tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, permissionsFile)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
var _ Repository = (*InMemoryRepository)(nil)
