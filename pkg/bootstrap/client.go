package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

// ClientBootstrapConfig describes the tenant and application registered on
// startup.
type ClientBootstrapConfig struct {
	TenantID   string
	TenantName string

	ClientID     string
	ClientName   string
	ClientSecret string // generated when empty
	CallbackURLs []string

	// UniversalLoginVersion is stored in the client metadata when set.
	UniversalLoginVersion string

	Registry *clients.InMemoryRepository
}

// ClientBootstrapResult contains the result of the client bootstrap
type ClientBootstrapResult struct {
	TenantID      string
	ClientID      string
	ClientSecret  string // Only populated if generated
	CallbackURLs  []string
	ClientCreated bool // false if the client was already registered

	SecretFromEnv bool
}

// BootstrapClient registers the configured tenant and client unless the
// client already exists.
func BootstrapClient(ctx context.Context, cfg ClientBootstrapConfig) (*ClientBootstrapResult, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid bootstrap configuration: %w", err)
	}

	_, err := cfg.Registry.GetEnrichedClient(ctx, cfg.TenantID, cfg.ClientID)
	if err == nil {
		slog.Info("Client already registered - skipping bootstrap", "tenant_id", cfg.TenantID, "client_id", cfg.ClientID)
		return &ClientBootstrapResult{TenantID: cfg.TenantID, ClientID: cfg.ClientID}, nil
	}
	if !errors.IsCode(err, errors.ErrCodeTenantNotFound) && !errors.IsCode(err, errors.ErrCodeClientNotFound) {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	if errors.IsCode(err, errors.ErrCodeTenantNotFound) {
		name := cfg.TenantName
		if name == "" {
			name = cfg.TenantID
		}
		cfg.Registry.PutTenant(clients.Tenant{ID: cfg.TenantID, FriendlyName: name})
		slog.Info("Tenant created", "tenant_id", cfg.TenantID)
	}

	secret := cfg.ClientSecret
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			return nil, err
		}
	}

	client := clients.Client{
		ClientID:     cfg.ClientID,
		TenantID:     cfg.TenantID,
		Name:         cfg.ClientName,
		ClientSecret: secret,
		CallbackURLs: cfg.CallbackURLs,
	}
	if cfg.UniversalLoginVersion != "" {
		client.ClientMetadata = map[string]string{clients.MetadataUniversalLoginVersion: cfg.UniversalLoginVersion}
	}
	cfg.Registry.PutClient(client)
	slog.Info("Client created", "tenant_id", cfg.TenantID, "client_id", cfg.ClientID, "callbacks", len(cfg.CallbackURLs))

	result := &ClientBootstrapResult{
		TenantID:      cfg.TenantID,
		ClientID:      cfg.ClientID,
		CallbackURLs:  cfg.CallbackURLs,
		ClientCreated: true,
		SecretFromEnv: cfg.ClientSecret != "",
	}
	if !result.SecretFromEnv {
		result.ClientSecret = secret
	}
	return result, nil
}

// validateConfig validates the bootstrap configuration
func validateConfig(cfg ClientBootstrapConfig) error {
	if cfg.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if cfg.Registry == nil {
		return fmt.Errorf("Registry is required")
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
