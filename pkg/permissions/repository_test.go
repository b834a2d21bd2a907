package permissions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFileRepo(t *testing.T) (*FileRepository, string) {
	tempDir := filepath.Join(os.TempDir(), "permissions-test-"+uuid.New().String())
	repo, err := NewFileRepository(tempDir)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.RemoveAll(tempDir)
	})
	return repo, tempDir
}

func TestRepositories(t *testing.T) {
	fileRepo, _ := setupFileRepo(t)
	backends := map[string]Repository{
		"InMemory": NewInMemoryRepository(),
		"File":     fileRepo,
	}

	for name, repo := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			perms, err := repo.List(ctx, "tenant", "email|1")
			require.NoError(t, err)
			assert.Empty(t, perms)

			grant := UserPermission{TenantID: "tenant", UserID: "email|1", ResourceServerIdentifier: "https://api", PermissionName: "read:beta"}
			require.NoError(t, repo.Grant(ctx, grant))
			require.NoError(t, repo.Grant(ctx, grant))

			perms, err = repo.List(ctx, "tenant", "email|1")
			require.NoError(t, err)
			require.Len(t, perms, 1)
			assert.True(t, Has(perms, "read:beta"))
			assert.False(t, Has(perms, "read"))

			other, err := repo.List(ctx, "other", "email|1")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, repo.Revoke(ctx, "tenant", "email|1", "https://api", "read:beta"))
			perms, err = repo.List(ctx, "tenant", "email|1")
			require.NoError(t, err)
			assert.Empty(t, perms)
		})
	}
}

func TestFileRepository_Reload(t *testing.T) {
	repo, dir := setupFileRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Grant(ctx, UserPermission{TenantID: "t", UserID: "u", PermissionName: "p"}))

	reopened, err := NewFileRepository(dir)
	require.NoError(t, err)
	perms, err := reopened.List(ctx, "t", "u")
	require.NoError(t, err)
	assert.True(t, Has(perms, "p"))
}
