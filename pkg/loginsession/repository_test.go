package loginsession

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRepository(t *testing.T) *RedisRepository {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRepository(client, "test")
}

func newFileRepository(t *testing.T) *FileRepository {
	dir := filepath.Join(os.TempDir(), "loginsession-test-"+uuid.New().String())
	t.Cleanup(func() { os.RemoveAll(dir) })

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	return repo
}

func TestRepositories(t *testing.T) {
	backends := map[string]func(t *testing.T) Repository{
		"InMemory": func(t *testing.T) Repository { return NewInMemoryRepository() },
		"File":     func(t *testing.T) Repository { return newFileRepository(t) },
		"Redis":    func(t *testing.T) Repository { return newRedisRepository(t) },
	}

	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			testRepositoryContract(t, factory(t))
		})
	}
}

func testRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	created, err := repo.Create(ctx, "tenant_a", LoginSession{
		AuthParams: AuthParams{ClientID: "client_1", Username: "a@b.com"},
		IP:         "10.0.0.1",
		ExpiresAt:  time.Now().Add(time.Hour).UTC(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, StatePending, created.State)
	assert.Equal(t, int64(1), created.Version)
	assert.NotNil(t, created.PipelineState.Context)

	t.Run("GetMissingReturnsNil", func(t *testing.T) {
		got, err := repo.Get(ctx, "tenant_a", "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("TenantScoped", func(t *testing.T) {
		got, err := repo.Get(ctx, "tenant_b", created.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("GetReturnsStoredSession", func(t *testing.T) {
		got, err := repo.Get(ctx, "tenant_a", created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "a@b.com", got.AuthParams.Username)
		assert.Equal(t, "10.0.0.1", got.IP)
		assert.Equal(t, "tenant_a", got.TenantID)
	})

	t.Run("UpdateStateDoesNotBumpVersion", func(t *testing.T) {
		state := StateAuthenticated
		data := Context{UserID: "email|1"}
		require.NoError(t, repo.Update(ctx, "tenant_a", created.ID, Patch{State: &state, StateData: &data}))

		got, err := repo.Get(ctx, "tenant_a", created.ID)
		require.NoError(t, err)
		assert.Equal(t, StateAuthenticated, got.State)
		assert.Equal(t, "email|1", got.StateData.UserID)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("PipelineWriteWithExpectedVersion", func(t *testing.T) {
		version := int64(1)
		ps := PipelineState{
			Position: 1,
			Current:  &PipelineStep{Type: PipelineStepForm, ID: "identifier"},
			Context:  map[string]any{"formData": map[string]any{"username": "a@b.com"}},
		}
		require.NoError(t, repo.Update(ctx, "tenant_a", created.ID, Patch{PipelineState: &ps, ExpectedVersion: &version}))

		got, err := repo.Get(ctx, "tenant_a", created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		require.NotNil(t, got.PipelineState.Current)
		assert.Equal(t, "identifier", got.PipelineState.Current.ID)
		assert.Equal(t, map[string]any{"username": "a@b.com"}, got.PipelineState.Context["formData"])

		// the stale version is now rejected
		stale := EmptyPipelineState()
		err = repo.Update(ctx, "tenant_a", created.ID, Patch{PipelineState: &stale, ExpectedVersion: &version})
		require.Error(t, err)
		assert.True(t, IsVersionConflict(err))

		got, err = repo.Get(ctx, "tenant_a", created.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.PipelineState.Position)
	})

	t.Run("UpdateMissingIsNoop", func(t *testing.T) {
		state := StateFailed
		assert.NoError(t, repo.Update(ctx, "tenant_a", "missing", Patch{State: &state}))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "tenant_a", created.ID))
		got, err := repo.Get(ctx, "tenant_a", created.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	created, err := repo.Create(ctx, "t", LoginSession{ID: "ls_1"})
	require.NoError(t, err)
	created.PipelineState.Context["leak"] = true

	got, err := repo.Get(ctx, "t", "ls_1")
	require.NoError(t, err)
	assert.NotContains(t, got.PipelineState.Context, "leak")
}

func TestFileRepository_Persists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(os.TempDir(), "loginsession-persist-"+uuid.New().String())
	defer os.RemoveAll(dir)

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	_, err = repo.Create(ctx, "t", LoginSession{ID: "ls_1", IP: "::1"})
	require.NoError(t, err)

	reopened, err := NewFileRepository(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "t", "ls_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "::1", got.IP)
}
