package passwordless

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/ratelimit"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
)

const (
	tenantID = "tenant"
	callback = "https://app.example.com/callback"
	otp      = "123456"
)

// mockBuilder records the last Build call.
type mockBuilder struct {
	BuildFunc func(ctx context.Context, p frontchannel.Params) (*frontchannel.Response, error)
	last      *frontchannel.Params
}

func (m *mockBuilder) Build(ctx context.Context, p frontchannel.Params) (*frontchannel.Response, error) {
	m.last = &p
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, p)
	}
	return frontchannel.Redirect(p.Session.AuthParams.RedirectURI + "?code=abc"), nil
}

type fixture struct {
	service  *Service
	lookup   *clients.InMemoryRepository
	codes    *codes.InMemoryRepository
	sessions *loginsession.InMemoryRepository
	users    *users.InMemoryRepository
	builder  *mockBuilder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	lookup := clients.NewInMemoryRepository()
	lookup.PutTenant(clients.Tenant{ID: tenantID})
	lookup.PutClient(clients.Client{ClientID: "app", TenantID: tenantID, CallbackURLs: []string{callback}})

	f := &fixture{
		lookup:   lookup,
		codes:    codes.NewInMemoryRepository(),
		sessions: loginsession.NewInMemoryRepository(),
		users:    users.NewInMemoryRepository(),
		builder:  &mockBuilder{},
	}
	_, err := f.sessions.Create(ctx, tenantID, loginsession.LoginSession{
		ID: "login-1",
		AuthParams: loginsession.AuthParams{
			ClientID:    "app",
			Username:    "a@b.com",
			RedirectURI: callback,
		},
		IP:        "2001:db8:85a3:0:1234:5678:9abc:def0",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	f.addCode(t, otp, time.Now().Add(5*time.Minute))
	f.service = NewService(lookup, f.codes, f.sessions, f.users, f.builder, opts...)
	return f
}

func (f *fixture) addCode(t *testing.T, value string, expiresAt time.Time) {
	t.Helper()
	_, err := f.codes.Create(context.Background(), tenantID, codes.Code{
		CodeID:    value,
		LoginID:   "login-1",
		CodeType:  codes.CodeTypeOTP,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
}

func requestCtx(ip string) context.Context {
	ctx := requestctx.WithTenantID(context.Background(), tenantID)
	return requestctx.WithClientIP(ctx, ip)
}

func grant(username, code string) GrantParams {
	return GrantParams{ClientID: "app", Username: username, OTP: code}
}

func TestGrantUser_Success(t *testing.T) {
	f := newFixture(t)
	ctx := requestCtx("198.51.100.7")

	resp, err := f.service.GrantUser(ctx, grant("A@B.com", otp))
	require.NoError(t, err)
	assert.True(t, resp.IsRedirect())

	code, err := f.codes.Get(ctx, tenantID, otp, codes.CodeTypeOTP)
	require.NoError(t, err)
	assert.True(t, code.IsUsed())

	require.NotNil(t, f.builder.last)
	user := f.builder.last.User
	assert.Equal(t, "a@b.com", user.Email)
	assert.True(t, user.EmailVerified)
	assert.True(t, strings.HasPrefix(user.UserID, "email|"))
	assert.NotNil(t, user.LastLogin)
	assert.Equal(t, "login-1", f.builder.last.Session.ID)
}

func TestGrantUser_CodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := requestCtx("")

	_, err := f.service.GrantUser(ctx, grant("a@b.com", otp))
	require.NoError(t, err)

	_, err = f.service.GrantUser(ctx, grant("a@b.com", otp))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCodeUsed), "got %v", err)
}

// lockstepCodes holds every Get until all callers have loaded their copy of
// the code, so concurrent grants see the same unused snapshot.
type lockstepCodes struct {
	*codes.InMemoryRepository
	loaded sync.WaitGroup
}

func (l *lockstepCodes) Get(ctx context.Context, tenantID, codeID string, codeType codes.CodeType) (*codes.Code, error) {
	code, err := l.InMemoryRepository.Get(ctx, tenantID, codeID, codeType)
	l.loaded.Done()
	l.loaded.Wait()
	return code, err
}

func TestGrantUser_ConcurrentGrantsAcceptCodeOnce(t *testing.T) {
	f := newFixture(t)
	repo := &lockstepCodes{InMemoryRepository: f.codes}
	repo.loaded.Add(2)
	service := NewService(f.lookup, repo, f.sessions, f.users, f.builder)

	type outcome struct {
		resp *frontchannel.Response
		err  error
	}
	outcomes := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := service.GrantUser(requestCtx(""), grant("a@b.com", otp))
			outcomes <- outcome{resp, err}
		}()
	}

	accepted := 0
	for i := 0; i < 2; i++ {
		o := <-outcomes
		if o.err == nil {
			require.NotNil(t, o.resp)
			accepted++
			continue
		}
		assert.Nil(t, o.resp)
		assert.True(t, errors.IsCode(o.err, errors.ErrCodeCodeUsed), "got %v", o.err)
	}
	assert.Equal(t, 1, accepted)
}

func TestGrantUser_ReusesExistingUser(t *testing.T) {
	f := newFixture(t)
	existing, err := f.users.Create(context.Background(), tenantID, users.User{
		Email:      "a@b.com",
		Connection: users.ConnectionEmail,
	})
	require.NoError(t, err)

	_, err = f.service.GrantUser(requestCtx(""), grant("a@b.com", otp))
	require.NoError(t, err)
	assert.Equal(t, existing.UserID, f.builder.last.User.UserID)
}

func TestGrantUser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		params  GrantParams
		prepare func(t *testing.T, f *fixture)
		want    errors.ErrorCode
	}{
		{
			name:   "missing tenant",
			ctx:    context.Background(),
			params: grant("a@b.com", otp),
			want:   errors.ErrCodeTenantNotFound,
		},
		{
			name:   "unknown client",
			ctx:    requestCtx(""),
			params: GrantParams{ClientID: "nope", Username: "a@b.com", OTP: otp},
			want:   errors.ErrCodeClientNotFound,
		},
		{
			name:   "invalid username",
			ctx:    requestCtx(""),
			params: grant("not-an-identifier", otp),
			want:   errors.ErrCodeInvalidUsername,
		},
		{
			name:   "unknown code",
			ctx:    requestCtx(""),
			params: grant("a@b.com", "000000"),
			want:   errors.ErrCodeCodeNotFound,
		},
		{
			name:   "expired code",
			ctx:    requestCtx(""),
			params: grant("a@b.com", "654321"),
			prepare: func(t *testing.T, f *fixture) {
				f.addCode(t, "654321", time.Now().Add(-time.Second))
			},
			want: errors.ErrCodeCodeExpired,
		},
		{
			name:   "used code",
			ctx:    requestCtx(""),
			params: grant("a@b.com", otp),
			prepare: func(t *testing.T, f *fixture) {
				require.NoError(t, f.codes.Used(context.Background(), tenantID, otp, codes.CodeTypeOTP))
			},
			want: errors.ErrCodeCodeUsed,
		},
		{
			name:   "missing session",
			ctx:    requestCtx(""),
			params: grant("a@b.com", otp),
			prepare: func(t *testing.T, f *fixture) {
				require.NoError(t, f.sessions.Delete(context.Background(), tenantID, "login-1"))
			},
			want: errors.ErrCodeInvalidSession,
		},
		{
			name:   "username mismatch",
			ctx:    requestCtx(""),
			params: grant("other@b.com", otp),
			want:   errors.ErrCodeUsernameMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			resp, err := f.service.GrantUser(tt.ctx, tt.params)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.want, errors.GetCode(err))
			assert.Nil(t, f.builder.last)
		})
	}
}

func TestGrantUser_IPCheck(t *testing.T) {
	t.Run("mismatch redirects and keeps the code", func(t *testing.T) {
		f := newFixture(t, WithOptions(Options{UniversalLoginBaseURL: "https://auth.example.com/"}))
		params := grant("a@b.com", otp)
		params.EnforceIPCheck = true

		resp, err := f.service.GrantUser(requestCtx("203.0.113.1"), params)
		require.NoError(t, err)
		require.True(t, resp.IsRedirect())

		loc, err := url.Parse(resp.Location)
		require.NoError(t, err)
		assert.Equal(t, InvalidSessionPath, loc.Path)
		assert.Equal(t, "login-1", loc.Query().Get("state"))

		code, err := f.codes.Get(context.Background(), tenantID, otp, codes.CodeTypeOTP)
		require.NoError(t, err)
		assert.False(t, code.IsUsed())
		assert.Nil(t, f.builder.last)
	})

	t.Run("mismatch rejected by policy", func(t *testing.T) {
		f := newFixture(t, WithOptions(Options{IPMismatchPolicy: IPMismatchReject}))
		params := grant("a@b.com", otp)
		params.EnforceIPCheck = true

		_, err := f.service.GrantUser(requestCtx("203.0.113.1"), params)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidSession))
	})

	t.Run("same ipv6 prefix passes when not strict", func(t *testing.T) {
		f := newFixture(t)
		params := grant("a@b.com", otp)
		params.EnforceIPCheck = true

		_, err := f.service.GrantUser(requestCtx("2001:db8:85a3:0:abcd:ef01:2345:6789"), params)
		require.NoError(t, err)
		assert.NotNil(t, f.builder.last)
	})

	t.Run("same ipv6 prefix redirects when strict", func(t *testing.T) {
		f := newFixture(t, WithOptions(Options{StrictIPv6: true}))
		params := grant("a@b.com", otp)
		params.EnforceIPCheck = true

		resp, err := f.service.GrantUser(requestCtx("2001:db8:85a3:0:abcd:ef01:2345:6789"), params)
		require.NoError(t, err)
		assert.Contains(t, resp.Location, InvalidSessionPath)
	})

	t.Run("check disabled", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.GrantUser(requestCtx("203.0.113.1"), grant("a@b.com", otp))
		require.NoError(t, err)
	})
}

func TestGrantUser_AttemptLimit(t *testing.T) {
	f := newFixture(t, WithAttemptLimiter(ratelimit.NewRateLimiter(2, 0)))
	ctx := requestCtx("")

	for i := 0; i < 2; i++ {
		_, err := f.service.GrantUser(ctx, grant("a@b.com", "999999"))
		assert.True(t, errors.IsCode(err, errors.ErrCodeCodeNotFound))
	}
	_, err := f.service.GrantUser(ctx, grant("a@b.com", otp))
	assert.True(t, errors.IsCode(err, errors.ErrCodeRateLimitExceeded))
}

func TestGrantUser_AuthParamsOverlay(t *testing.T) {
	f := newFixture(t)
	params := grant("a@b.com", otp)
	params.AuthParams = &loginsession.AuthParams{State: "from-request", ResponseType: "id_token"}

	_, err := f.service.GrantUser(requestCtx(""), params)
	require.NoError(t, err)
	auth := f.builder.last.Session.AuthParams
	assert.Equal(t, "from-request", auth.State)
	assert.Equal(t, "id_token", auth.ResponseType)
	assert.Equal(t, callback, auth.RedirectURI)
}

func TestConnectionFor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a@b.com", users.ConnectionEmail, true},
		{"+46701234567", users.ConnectionSMS, true},
		{"0701234567", "", false},
		{"Name <a@b.com>", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ConnectionFor(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
