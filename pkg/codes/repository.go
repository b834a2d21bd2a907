package codes

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Repository stores codes. Get returns (nil, nil) for unknown codes. Used
// marks a code used atomically: it fails with code_used when the code was
// already used and with code_not_found when it does not exist.
type Repository interface {
	Create(ctx context.Context, tenantID string, code Code) (*Code, error)
	Get(ctx context.Context, tenantID, codeID string, codeType CodeType) (*Code, error)
	Used(ctx context.Context, tenantID, codeID string, codeType CodeType) error
}

const otpDigits = 6

// GenerateOTP returns a random numeric code.
func GenerateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// IssueParams describes a code to issue.
type IssueParams struct {
	TenantID string
	LoginID  string
	UserID   string
	CodeType CodeType
	TTL      time.Duration
	// Now is the issue time; zero means the current time.
	Now time.Time
}

// Issue generates a fresh numeric code and stores it. Collisions with an
// existing code of the same type are retried.
func Issue(ctx context.Context, repo Repository, params IssueParams) (*Code, error) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		value, err := GenerateOTP()
		if err != nil {
			return nil, err
		}
		existing, err := repo.Get(ctx, params.TenantID, value, params.CodeType)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		now := params.Now.UTC()
		if params.Now.IsZero() {
			now = time.Now().UTC()
		}
		return repo.Create(ctx, params.TenantID, Code{
			CodeID:    value,
			LoginID:   params.LoginID,
			UserID:    params.UserID,
			CodeType:  params.CodeType,
			CreatedAt: now,
			ExpiresAt: now.Add(params.TTL),
		})
	}
	return nil, fmt.Errorf("failed to issue a unique %s code", params.CodeType)
}
