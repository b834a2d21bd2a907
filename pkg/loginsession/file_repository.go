package loginsession

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionsFile = "login_sessions.json"

// fileSessionData represents all login sessions stored in the file
type fileSessionData struct {
	Sessions map[string]LoginSession `json:"sessions"` // keyed by tenant + id
}

// FileRepository implements Repository with a JSON file in dataDir. Every
// write rewrites the file atomically.
type FileRepository struct {
	dataDir string
	data    *fileSessionData
	mutex   sync.RWMutex
}

// NewFileRepository creates a new file-based login session repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir: dataDir,
		data: &fileSessionData{
			Sessions: make(map[string]LoginSession),
		},
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileRepository) Create(ctx context.Context, tenantID string, session LoginSession) (*LoginSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	k := key(tenantID, session.ID)
	if _, exists := r.data.Sessions[k]; exists {
		return nil, fmt.Errorf("login session already exists: %s", session.ID)
	}

	stored := prepareCreate(tenantID, session, time.Now().UTC())
	r.data.Sessions[k] = stored

	if err := r.save(); err != nil {
		// Rollback
		delete(r.data.Sessions, k)
		return nil, fmt.Errorf("failed to save: %w", err)
	}

	out, err := clone(stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *FileRepository) Get(ctx context.Context, tenantID, id string) (*LoginSession, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, ok := r.data.Sessions[key(tenantID, id)]
	if !ok {
		return nil, nil
	}
	out, err := clone(stored)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *FileRepository) Update(ctx context.Context, tenantID, id string, patch Patch) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := key(tenantID, id)
	previous, ok := r.data.Sessions[k]
	if !ok {
		return nil
	}
	if err := checkVersion(&previous, patch); err != nil {
		return err
	}

	updated := previous
	patch.apply(&updated, time.Now().UTC())
	updated, err := clone(updated)
	if err != nil {
		return err
	}
	r.data.Sessions[k] = updated

	if err := r.save(); err != nil {
		// Rollback
		r.data.Sessions[k] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	k := key(tenantID, id)
	previous, ok := r.data.Sessions[k]
	if !ok {
		return nil
	}
	delete(r.data.Sessions, k)

	if err := r.save(); err != nil {
		// Rollback
		r.data.Sessions[k] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads login sessions from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, sessionsFile)

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
	if r.data.Sessions == nil {
		r.data.Sessions = make(map[string]LoginSession)
	}
	return nil
}

// save writes login sessions to file atomically
func (r *FileRepository) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, sessionsFile+".tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, sessionsFile)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
