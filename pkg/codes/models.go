package codes

import (
	"time"
)

// CodeType distinguishes what a code may be exchanged for.
type CodeType string

const (
	CodeTypeOTP               CodeType = "otp"
	CodeTypeEmailVerification CodeType = "email_verification"
	CodeTypePasswordReset     CodeType = "password_reset"
	CodeTypeAuthorizationCode CodeType = "authorization_code"
	CodeTypeTicket            CodeType = "ticket"
)

// Code is a one-time code bound to a login session.
type Code struct {
	CodeID    string     `json:"code_id"`
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id,omitempty"`
	LoginID   string     `json:"login_id"`
	CodeType  CodeType   `json:"code_type"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsExpired reports whether the code may no longer be accepted at now.
func (c *Code) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsUsed reports whether the code has already been exchanged.
func (c *Code) IsUsed() bool {
	return c.UsedAt != nil
}
