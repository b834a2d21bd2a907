// Package clients resolves applications together with the tenant they
// belong to. Lookups are read-mostly and are usually wrapped in a
// CachedLookup.
package clients

import (
	"context"
	"sync"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

// MetadataUniversalLoginVersion selects the universal login generation
// ("2" routes page hooks to /u2).
const MetadataUniversalLoginVersion = "universal_login_version"

type Tenant struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	Audience     string `json:"audience,omitempty"`
	SupportURL   string `json:"support_url,omitempty"`
}

type Client struct {
	ClientID       string            `json:"client_id"`
	TenantID       string            `json:"tenant_id"`
	Name           string            `json:"name"`
	ClientSecret   string            `json:"-"`
	CallbackURLs   []string          `json:"callbacks,omitempty"`
	ClientMetadata map[string]string `json:"client_metadata,omitempty"`
}

// EnrichedClient is a client joined with its tenant.
type EnrichedClient struct {
	Client
	Tenant Tenant `json:"tenant"`
}

// UniversalLoginVersion returns the configured generation, "1" when unset.
func (c *EnrichedClient) UniversalLoginVersion() string {
	if v := c.ClientMetadata[MetadataUniversalLoginVersion]; v != "" {
		return v
	}
	return "1"
}

// AllowsCallback reports whether uri is registered for the client. A client
// without registered callbacks allows none.
func (c *EnrichedClient) AllowsCallback(uri string) bool {
	for _, cb := range c.CallbackURLs {
		if cb == uri {
			return true
		}
	}
	return false
}

// Lookup resolves a client inside a tenant. A missing tenant yields
// tenant_not_found, a missing client client_not_found.
type Lookup interface {
	GetEnrichedClient(ctx context.Context, tenantID, clientID string) (*EnrichedClient, error)
}

// InMemoryRepository holds tenants and clients in maps.
type InMemoryRepository struct {
	mutex   sync.RWMutex
	tenants map[string]Tenant
	clients map[string]Client // tenant + client id
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tenants: make(map[string]Tenant),
		clients: make(map[string]Client),
	}
}

func (r *InMemoryRepository) PutTenant(t Tenant) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.tenants[t.ID] = t
}

func (r *InMemoryRepository) PutClient(c Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clients[c.TenantID+":"+c.ClientID] = c
}

func (r *InMemoryRepository) GetEnrichedClient(ctx context.Context, tenantID, clientID string) (*EnrichedClient, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, errors.New(errors.ErrCodeTenantNotFound, "tenant not found").WithDetail("tenant_id", tenantID)
	}
	client, ok := r.clients[tenantID+":"+clientID]
	if !ok {
		return nil, errors.New(errors.ErrCodeClientNotFound, "client not found").WithDetail("client_id", clientID)
	}

	out := &EnrichedClient{Client: client, Tenant: tenant}
	out.CallbackURLs = append([]string(nil), client.CallbackURLs...)
	if client.ClientMetadata != nil {
		out.ClientMetadata = make(map[string]string, len(client.ClientMetadata))
		for k, v := range client.ClientMetadata {
			out.ClientMetadata[k] = v
		}
	}
	return out, nil
}

var _ Lookup = (*InMemoryRepository)(nil)
