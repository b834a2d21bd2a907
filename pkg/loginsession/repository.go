package loginsession

import (
	"context"
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

// Repository stores login sessions. All methods are tenant scoped. Get
// returns (nil, nil) when the session does not exist, and Update on a
// missing session is a no-op.
type Repository interface {
	Create(ctx context.Context, tenantID string, session LoginSession) (*LoginSession, error)
	Get(ctx context.Context, tenantID, id string) (*LoginSession, error)
	Update(ctx context.Context, tenantID, id string, patch Patch) error
	Delete(ctx context.Context, tenantID, id string) error
}

// ErrVersionConflict reports a rejected conditional update.
func ErrVersionConflict(id string, expected, actual int64) error {
	return errors.Newf(errors.ErrCodeConflict, "login session %s was modified concurrently", id).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

// IsVersionConflict reports whether err is a rejected conditional update.
func IsVersionConflict(err error) bool {
	return errors.IsCode(err, errors.ErrCodeConflict)
}

// prepareCreate fills the defaults every backend applies on create.
func prepareCreate(tenantID string, session LoginSession, now time.Time) LoginSession {
	session.TenantID = tenantID
	if session.State == "" {
		session.State = StatePending
	}
	if session.PipelineState.Context == nil {
		session.PipelineState.Context = map[string]any{}
	}
	if session.Version == 0 {
		session.Version = 1
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	return session
}

// checkVersion validates a conditional update against the stored session.
func checkVersion(stored *LoginSession, patch Patch) error {
	if patch.ExpectedVersion == nil || *patch.ExpectedVersion == stored.Version {
		return nil
	}
	return ErrVersionConflict(stored.ID, *patch.ExpectedVersion, stored.Version)
}
