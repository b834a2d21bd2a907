package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

type countingLookup struct {
	next  Lookup
	calls int
}

func (c *countingLookup) GetEnrichedClient(ctx context.Context, tenantID, clientID string) (*EnrichedClient, error) {
	c.calls++
	return c.next.GetEnrichedClient(ctx, tenantID, clientID)
}

func seed() *InMemoryRepository {
	repo := NewInMemoryRepository()
	repo.PutTenant(Tenant{ID: "tenant", FriendlyName: "Acme"})
	repo.PutClient(Client{
		ClientID:       "app",
		TenantID:       "tenant",
		CallbackURLs:   []string{"https://app.example.com/cb"},
		ClientMetadata: map[string]string{MetadataUniversalLoginVersion: "2"},
	})
	return repo
}

func TestInMemoryRepository_GetEnrichedClient(t *testing.T) {
	repo := seed()
	ctx := context.Background()

	client, err := repo.GetEnrichedClient(ctx, "tenant", "app")
	require.NoError(t, err)
	assert.Equal(t, "Acme", client.Tenant.FriendlyName)
	assert.Equal(t, "2", client.UniversalLoginVersion())
	assert.True(t, client.AllowsCallback("https://app.example.com/cb"))
	assert.False(t, client.AllowsCallback("https://evil.example.com/cb"))

	_, err = repo.GetEnrichedClient(ctx, "missing", "app")
	assert.True(t, errors.IsCode(err, errors.ErrCodeTenantNotFound))

	_, err = repo.GetEnrichedClient(ctx, "tenant", "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeClientNotFound))
}

func TestEnrichedClient_DefaultVersion(t *testing.T) {
	c := &EnrichedClient{}
	assert.Equal(t, "1", c.UniversalLoginVersion())
}

func TestCachedLookup(t *testing.T) {
	counter := &countingLookup{next: seed()}
	cached := NewCachedLookup(counter, time.Minute)
	t.Cleanup(cached.Stop)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client, err := cached.GetEnrichedClient(ctx, "tenant", "app")
		require.NoError(t, err)
		assert.Equal(t, "app", client.ClientID)
	}
	assert.Equal(t, 1, counter.calls)

	cached.Invalidate("tenant", "app")
	_, err := cached.GetEnrichedClient(ctx, "tenant", "app")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)

	// failures go to the backend every time
	_, err = cached.GetEnrichedClient(ctx, "tenant", "missing")
	require.Error(t, err)
	_, err = cached.GetEnrichedClient(ctx, "tenant", "missing")
	require.Error(t, err)
	assert.Equal(t, 4, counter.calls)
}
