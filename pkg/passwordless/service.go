package passwordless

import (
	"context"
	"log/slog"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/ipmatch"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/ratelimit"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
)

const (
	// IPMismatchRedirect sends the browser to the invalid-session page.
	IPMismatchRedirect = "redirect"
	// IPMismatchReject fails the grant with invalid_session.
	IPMismatchReject = "reject"

	InvalidSessionPath = "/u/invalid-session"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Options tunes the grant.
type Options struct {
	// StrictIPv6 compares all eight IPv6 groups instead of the first four.
	StrictIPv6 bool
	// IPMismatchPolicy is IPMismatchRedirect (default) or IPMismatchReject.
	IPMismatchPolicy string
	// UniversalLoginBaseURL prefixes the invalid-session redirect.
	UniversalLoginBaseURL string
}

// GrantParams is the submitted grant. AuthParams, when set, overrides the
// non-empty fields of the authorization parameters stored on the session.
type GrantParams struct {
	ClientID       string
	Username       string
	OTP            string
	AuthParams     *loginsession.AuthParams
	EnforceIPCheck bool
}

type Service struct {
	clients  clients.Lookup
	codes    codes.Repository
	sessions loginsession.Repository
	users    users.Repository
	builder  frontchannel.Builder
	attempts *ratelimit.RateLimiter
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithAttemptLimiter throttles grants per tenant and username.
func WithAttemptLimiter(l *ratelimit.RateLimiter) Option {
	return func(s *Service) { s.attempts = l }
}

func WithOptions(o Options) Option {
	return func(s *Service) { s.opts = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	clientLookup clients.Lookup,
	codeRepo codes.Repository,
	sessions loginsession.Repository,
	userRepo users.Repository,
	builder frontchannel.Builder,
	opts ...Option,
) *Service {
	s := &Service{
		clients:  clientLookup,
		codes:    codeRepo,
		sessions: sessions,
		users:    userRepo,
		builder:  builder,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.opts.IPMismatchPolicy == "" {
		s.opts.IPMismatchPolicy = IPMismatchRedirect
	}
	return s
}

// Verified is a grant that passed every check. The code has been marked
// used and the user exists.
type Verified struct {
	TenantID string
	Client   *clients.EnrichedClient
	Session  *loginsession.LoginSession
	User     *users.User
}

// GrantUser validates the code in params and returns the response that
// finishes the login. Tenant and client address are read from ctx.
func (s *Service) GrantUser(ctx context.Context, params GrantParams) (*frontchannel.Response, error) {
	verified, redirect, err := s.Verify(ctx, params)
	if err != nil || redirect != nil {
		return redirect, err
	}
	return s.builder.Build(ctx, frontchannel.Params{
		TenantID: verified.TenantID,
		Client:   verified.Client,
		Session:  verified.Session,
		User:     verified.User,
	})
}

// Verify runs the checks of GrantUser without building the final response.
// A non-nil response means the address check failed softly and the caller
// must send it instead of continuing.
func (s *Service) Verify(ctx context.Context, params GrantParams) (*Verified, *frontchannel.Response, error) {
	tenantID := requestctx.TenantID(ctx)
	if tenantID == "" {
		return nil, nil, errors.New(errors.ErrCodeTenantNotFound, "tenant not found")
	}
	client, err := s.clients.GetEnrichedClient(ctx, tenantID, params.ClientID)
	if err != nil {
		return nil, nil, err
	}

	username := strings.TrimSpace(params.Username)
	connection, ok := ConnectionFor(username)
	if !ok {
		return nil, nil, errors.New(errors.ErrCodeInvalidUsername, "username must be an email address or E.164 phone number")
	}

	attemptKey := tenantID + ":" + strings.ToLower(username)
	if s.attempts != nil && !s.attempts.Allow(attemptKey) {
		s.logger.Warn("Too many passwordless attempts", "tenant_id", tenantID, "connection", connection)
		return nil, nil, errors.RateLimitExceeded("60")
	}

	code, err := s.codes.Get(ctx, tenantID, params.OTP, codes.CodeTypeOTP)
	if err != nil {
		return nil, nil, errors.InternalWrap(err, "failed to load code")
	}
	now := s.now()
	switch {
	case code == nil:
		return nil, nil, errors.New(errors.ErrCodeCodeNotFound, "code not found")
	case code.IsExpired(now):
		return nil, nil, errors.New(errors.ErrCodeCodeExpired, "code expired")
	case code.IsUsed():
		return nil, nil, errors.New(errors.ErrCodeCodeUsed, "code already used")
	}

	session, err := s.sessions.Get(ctx, tenantID, code.LoginID)
	if err != nil {
		return nil, nil, errors.InternalWrap(err, "failed to load login session")
	}
	if session == nil {
		return nil, nil, errors.New(errors.ErrCodeInvalidSession, "login session not found").WithDetail("login_id", code.LoginID)
	}
	if !strings.EqualFold(session.AuthParams.Username, username) {
		return nil, nil, errors.New(errors.ErrCodeUsernameMismatch, "code was issued for a different username")
	}

	clientIP := requestctx.ClientIP(ctx)
	if params.EnforceIPCheck && session.IP != "" && clientIP != "" &&
		!ipmatch.IsMatch(session.IP, clientIP, ipmatch.WithStrict(s.opts.StrictIPv6)) {
		s.logger.Warn("Passwordless grant from a different address",
			"tenant_id", tenantID, "login_id", session.ID, "session_ip", session.IP, "client_ip", clientIP)
		if s.opts.IPMismatchPolicy == IPMismatchReject {
			return nil, nil, errors.New(errors.ErrCodeInvalidSession, "request address does not match login session")
		}
		return nil, frontchannel.Redirect(s.invalidSessionURL(session.ID)), nil
	}

	// Used is the atomic check: a concurrent grant may have consumed the code
	// since it was loaded.
	if err := s.codes.Used(ctx, tenantID, code.CodeID, codes.CodeTypeOTP); err != nil {
		if errors.IsCode(err, errors.ErrCodeCodeUsed) || errors.IsCode(err, errors.ErrCodeCodeNotFound) {
			return nil, nil, err
		}
		return nil, nil, errors.InternalWrap(err, "failed to mark code used")
	}
	if s.attempts != nil {
		s.attempts.Reset(attemptKey)
	}

	user, err := s.resolveUser(ctx, tenantID, connection, username, now)
	if err != nil {
		return nil, nil, err
	}

	if params.AuthParams != nil {
		session.AuthParams = overlay(session.AuthParams, *params.AuthParams)
	}
	s.logger.Info("Passwordless grant accepted", "tenant_id", tenantID, "login_id", session.ID, "user_id", user.UserID)
	return &Verified{TenantID: tenantID, Client: client, Session: session, User: user}, nil, nil
}

// resolveUser finds the user for the identifier or signs them up. Email
// users are verified by the code itself.
func (s *Service) resolveUser(ctx context.Context, tenantID, connection, username string, now time.Time) (*users.User, error) {
	user, err := s.users.FindByIdentifier(ctx, tenantID, connection, username)
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to look up user")
	}
	if user == nil {
		candidate := users.User{Connection: connection, Provider: connection}
		if connection == users.ConnectionEmail {
			candidate.Email = strings.ToLower(username)
			candidate.EmailVerified = true
		} else {
			candidate.PhoneNumber = username
		}
		user, err = s.users.Create(ctx, tenantID, candidate)
		if err != nil {
			return nil, errors.InternalWrap(err, "failed to create user")
		}
		s.logger.Info("Created passwordless user", "tenant_id", tenantID, "user_id", user.UserID)
	}

	user.LastLogin = &now
	if connection == users.ConnectionEmail {
		user.EmailVerified = true
	}
	if err := s.users.Update(ctx, tenantID, *user); err != nil {
		return nil, errors.InternalWrap(err, "failed to update user")
	}
	return user, nil
}

func (s *Service) invalidSessionURL(loginID string) string {
	return strings.TrimRight(s.opts.UniversalLoginBaseURL, "/") + InvalidSessionPath + "?state=" + url.QueryEscape(loginID)
}

// ConnectionFor classifies a login identifier as an email address or an
// E.164 phone number.
func ConnectionFor(username string) (string, bool) {
	if e164.MatchString(username) {
		return users.ConnectionSMS, true
	}
	addr, err := mail.ParseAddress(username)
	if err == nil && addr.Address == username {
		return users.ConnectionEmail, true
	}
	return "", false
}

func overlay(base, override loginsession.AuthParams) loginsession.AuthParams {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.RedirectURI, override.RedirectURI)
	set(&base.ResponseType, override.ResponseType)
	set(&base.ResponseMode, override.ResponseMode)
	set(&base.Scope, override.Scope)
	set(&base.State, override.State)
	set(&base.Nonce, override.Nonce)
	set(&base.Audience, override.Audience)
	return base
}
