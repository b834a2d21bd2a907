package codes

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

func newSQLiteRepository(t *testing.T) *SQLiteRepository {
	dir := filepath.Join(os.TempDir(), "codes-test-"+uuid.New().String())
	require.NoError(t, os.MkdirAll(dir, 0755))
	t.Cleanup(func() { os.RemoveAll(dir) })

	repo, err := OpenSQLite(filepath.Join(dir, "codes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositories(t *testing.T) {
	backends := map[string]func(t *testing.T) Repository{
		"InMemory": func(t *testing.T) Repository { return NewInMemoryRepository() },
		"SQLite":   func(t *testing.T) Repository { return newSQLiteRepository(t) },
	}
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			testRepository(t, factory(t))
		})
	}
}

func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Millisecond)

	_, err := repo.Create(ctx, "tenant", Code{
		CodeID:    "123456",
		LoginID:   "ls_1",
		CodeType:  CodeTypeOTP,
		ExpiresAt: expires,
	})
	require.NoError(t, err)

	t.Run("Duplicate", func(t *testing.T) {
		_, err := repo.Create(ctx, "tenant", Code{CodeID: "123456", LoginID: "ls_2", CodeType: CodeTypeOTP, ExpiresAt: expires})
		assert.Error(t, err)
	})

	t.Run("ScopedByTypeAndTenant", func(t *testing.T) {
		code, err := repo.Get(ctx, "tenant", "123456", CodeTypeEmailVerification)
		require.NoError(t, err)
		assert.Nil(t, code)

		code, err = repo.Get(ctx, "other", "123456", CodeTypeOTP)
		require.NoError(t, err)
		assert.Nil(t, code)
	})

	t.Run("Get", func(t *testing.T) {
		code, err := repo.Get(ctx, "tenant", "123456", CodeTypeOTP)
		require.NoError(t, err)
		require.NotNil(t, code)
		assert.Equal(t, "ls_1", code.LoginID)
		assert.Equal(t, expires, code.ExpiresAt)
		assert.False(t, code.IsUsed())
	})

	t.Run("UsedOnce", func(t *testing.T) {
		require.NoError(t, repo.Used(ctx, "tenant", "123456", CodeTypeOTP))
		first, err := repo.Get(ctx, "tenant", "123456", CodeTypeOTP)
		require.NoError(t, err)
		require.True(t, first.IsUsed())

		time.Sleep(2 * time.Millisecond)
		err = repo.Used(ctx, "tenant", "123456", CodeTypeOTP)
		assert.True(t, errors.IsCode(err, errors.ErrCodeCodeUsed), "got %v", err)
		second, err := repo.Get(ctx, "tenant", "123456", CodeTypeOTP)
		require.NoError(t, err)
		assert.Equal(t, *first.UsedAt, *second.UsedAt)
	})

	t.Run("UsedMissing", func(t *testing.T) {
		err := repo.Used(ctx, "tenant", "000000", CodeTypeOTP)
		assert.True(t, errors.IsCode(err, errors.ErrCodeCodeNotFound), "got %v", err)
	})

	t.Run("ConcurrentUse", func(t *testing.T) {
		_, err := repo.Create(ctx, "tenant", Code{CodeID: "654321", LoginID: "ls_3", CodeType: CodeTypeOTP, ExpiresAt: expires})
		require.NoError(t, err)

		const workers = 8
		results := make(chan error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.Used(ctx, "tenant", "654321", CodeTypeOTP)
			}()
		}
		wg.Wait()
		close(results)

		accepted := 0
		for err := range results {
			if err == nil {
				accepted++
				continue
			}
			assert.True(t, errors.IsCode(err, errors.ErrCodeCodeUsed), "got %v", err)
		}
		assert.Equal(t, 1, accepted)
	})
}

func TestCode_IsExpired(t *testing.T) {
	now := time.Now()
	code := Code{ExpiresAt: now}
	assert.True(t, code.IsExpired(now))
	assert.False(t, code.IsExpired(now.Add(-time.Second)))
}

func TestIssue(t *testing.T) {
	repo := NewInMemoryRepository()
	code, err := Issue(context.Background(), repo, IssueParams{
		TenantID: "tenant",
		LoginID:  "ls_1",
		CodeType: CodeTypeOTP,
		TTL:      5 * time.Minute,
	})
	require.NoError(t, err)
	assert.Len(t, code.CodeID, 6)
	assert.Regexp(t, `^\d{6}$`, code.CodeID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), code.ExpiresAt, 5*time.Second)

	stored, err := repo.Get(context.Background(), "tenant", code.CodeID, CodeTypeOTP)
	require.NoError(t, err)
	assert.Equal(t, "ls_1", stored.LoginID)
}
