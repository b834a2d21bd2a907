package codes

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS codes (
	tenant_id  TEXT    NOT NULL,
	code_id    TEXT    NOT NULL,
	code_type  TEXT    NOT NULL,
	login_id   TEXT    NOT NULL,
	user_id    TEXT    NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL,
	used_at    INTEGER,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, code_type, code_id)
);
CREATE INDEX IF NOT EXISTS codes_login_id ON codes (tenant_id, login_id);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteRepository persists codes in SQLite.
type SQLiteRepository struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenSQLite opens the database at path and creates the schema.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; concurrent Used calls queue instead of failing
	// with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create codes schema: %w", err)
	}
	return &SQLiteRepository{
		sqlDB: sqlDB,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteRepository) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteRepository) Create(ctx context.Context, tenantID string, code Code) (*Code, error) {
	code.TenantID = tenantID
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	var usedAt any
	if code.UsedAt != nil {
		usedAt = toMillis(*code.UsedAt)
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO codes (tenant_id, code_id, code_type, login_id, user_id, expires_at, used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID, code.CodeID, string(code.CodeType), code.LoginID, code.UserID,
		toMillis(code.ExpiresAt), usedAt, toMillis(code.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("code already exists")
		}
		return nil, fmt.Errorf("insert code: %w", err)
	}
	return &code, nil
}

func (s *SQLiteRepository) Get(ctx context.Context, tenantID, codeID string, codeType CodeType) (*Code, error) {
	var (
		code                 Code
		kind                 string
		expiresAt, createdAt int64
		usedAt               sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT tenant_id, code_id, code_type, login_id, user_id, expires_at, used_at, created_at
		 FROM codes WHERE tenant_id = ? AND code_type = ? AND code_id = ?`,
		tenantID, string(codeType), codeID,
	).Scan(&code.TenantID, &code.CodeID, &kind, &code.LoginID, &code.UserID, &expiresAt, &usedAt, &createdAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get code: %w", err)
	}

	code.CodeType = CodeType(kind)
	code.ExpiresAt = fromMillis(expiresAt)
	code.CreatedAt = fromMillis(createdAt)
	if usedAt.Valid {
		t := fromMillis(usedAt.Int64)
		code.UsedAt = &t
	}
	return &code, nil
}

func (s *SQLiteRepository) Used(ctx context.Context, tenantID, codeID string, codeType CodeType) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE codes SET used_at = ? WHERE tenant_id = ? AND code_type = ? AND code_id = ? AND used_at IS NULL`,
		toMillis(s.now()), tenantID, string(codeType), codeID)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: the code is either unknown or already used.
	var usedAt sql.NullInt64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT used_at FROM codes WHERE tenant_id = ? AND code_type = ? AND code_id = ?`,
		tenantID, string(codeType), codeID).Scan(&usedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.New(errors.ErrCodeCodeNotFound, "code not found")
	}
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	return errors.New(errors.ErrCodeCodeUsed, "code already used")
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ Repository = (*SQLiteRepository)(nil)
var _ Repository = (*InMemoryRepository)(nil)
