package loginsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by the repository. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the login_sessions table.
const Schema = `
CREATE TABLE IF NOT EXISTS login_sessions (
	tenant_id      TEXT        NOT NULL,
	id             TEXT        NOT NULL,
	auth_params    JSONB       NOT NULL DEFAULT '{}'::jsonb,
	state          TEXT        NOT NULL DEFAULT 'pending',
	state_data     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	user_id        TEXT        NOT NULL DEFAULT '',
	ip             TEXT        NOT NULL DEFAULT '',
	user_agent     TEXT        NOT NULL DEFAULT '',
	pipeline_state JSONB       NOT NULL DEFAULT '{"position":0,"current":null,"context":{}}'::jsonb,
	version        BIGINT      NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ,
	PRIMARY KEY (tenant_id, id)
)`

const selectSession = `
SELECT tenant_id, id, auth_params, state, state_data, user_id, ip, user_agent,
       pipeline_state, version, created_at, updated_at, expires_at
FROM login_sessions
WHERE tenant_id = $1 AND id = $2`

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a repository using db.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create login_sessions table: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, tenantID string, session LoginSession) (*LoginSession, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session = prepareCreate(tenantID, session, time.Now().UTC())

	authParams, err := json.Marshal(session.AuthParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth params: %w", err)
	}
	stateData, err := json.Marshal(session.StateData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state data: %w", err)
	}
	pipeline, err := json.Marshal(session.PipelineState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pipeline state: %w", err)
	}

	_, err = r.db.Exec(ctx, `
INSERT INTO login_sessions (tenant_id, id, auth_params, state, state_data, user_id, ip, user_agent,
                            pipeline_state, version, created_at, updated_at, expires_at)
VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)`,
		tenantID, session.ID, string(authParams), string(session.State), string(stateData),
		session.UserID, session.IP, session.UserAgent, string(pipeline), session.Version,
		session.CreatedAt, session.UpdatedAt, nullTime(session.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert login session: %w", err)
	}
	return &session, nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, id string) (*LoginSession, error) {
	var (
		s                               LoginSession
		state                           string
		authParams, stateData, pipeline []byte
		expiresAt                       *time.Time
	)
	err := r.db.QueryRow(ctx, selectSession, tenantID, id).Scan(
		&s.TenantID, &s.ID, &authParams, &state, &stateData, &s.UserID, &s.IP, &s.UserAgent,
		&pipeline, &s.Version, &s.CreatedAt, &s.UpdatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get login session: %w", err)
	}

	s.State = State(state)
	if expiresAt != nil {
		s.ExpiresAt = expiresAt.UTC()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if err := json.Unmarshal(authParams, &s.AuthParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth params: %w", err)
	}
	if err := json.Unmarshal(stateData, &s.StateData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
	}
	if err := json.Unmarshal(pipeline, &s.PipelineState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline state: %w", err)
	}
	if s.PipelineState.Context == nil {
		s.PipelineState.Context = map[string]any{}
	}
	return &s, nil
}

func (r *PostgresRepository) Update(ctx context.Context, tenantID, id string, patch Patch) error {
	args := []any{tenantID, id, time.Now().UTC()}
	sets := []string{"updated_at = $3"}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.AuthParams != nil {
		data, err := json.Marshal(patch.AuthParams)
		if err != nil {
			return fmt.Errorf("failed to marshal auth params: %w", err)
		}
		add("auth_params = $%d::jsonb", string(data))
	}
	if patch.State != nil {
		add("state = $%d", string(*patch.State))
	}
	if patch.StateData != nil {
		data, err := json.Marshal(patch.StateData)
		if err != nil {
			return fmt.Errorf("failed to marshal state data: %w", err)
		}
		add("state_data = $%d::jsonb", string(data))
	}
	if patch.UserID != nil {
		add("user_id = $%d", *patch.UserID)
	}
	if patch.ExpiresAt != nil {
		add("expires_at = $%d", nullTime(*patch.ExpiresAt))
	}
	if patch.PipelineState != nil {
		ps := *patch.PipelineState
		if ps.Context == nil {
			ps.Context = map[string]any{}
		}
		data, err := json.Marshal(ps)
		if err != nil {
			return fmt.Errorf("failed to marshal pipeline state: %w", err)
		}
		add("pipeline_state = $%d::jsonb", string(data))
		sets = append(sets, "version = version + 1")
	}

	query := "UPDATE login_sessions SET " + strings.Join(sets, ", ") + " WHERE tenant_id = $1 AND id = $2"
	if patch.ExpectedVersion != nil {
		args = append(args, *patch.ExpectedVersion)
		query += fmt.Sprintf(" AND version = $%d", len(args))
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update login session: %w", err)
	}
	if tag.RowsAffected() > 0 || patch.ExpectedVersion == nil {
		return nil
	}

	// Zero rows under a version guard is either a missing row or a conflict.
	var actual int64
	err = r.db.QueryRow(ctx, "SELECT version FROM login_sessions WHERE tenant_id = $1 AND id = $2", tenantID, id).Scan(&actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to read login session version: %w", err)
	}
	return ErrVersionConflict(id, *patch.ExpectedVersion, actual)
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM login_sessions WHERE tenant_id = $1 AND id = $2", tenantID, id); err != nil {
		return fmt.Errorf("failed to delete login session: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
