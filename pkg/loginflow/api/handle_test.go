package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginflow"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/notification"
	"github.com/markusahlstrand/authhero-sub008/pkg/pagehooks"
	"github.com/markusahlstrand/authhero-sub008/pkg/passwordless"
	"github.com/markusahlstrand/authhero-sub008/pkg/permissions"
	"github.com/markusahlstrand/authhero-sub008/pkg/ratelimit"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

const (
	tenantID = "tenant"
	callback = "https://app.example.com/callback"
)

var otpPattern = regexp.MustCompile(`\d{6}`)

type outbox struct {
	messages []notification.Message
}

func (o *outbox) Send(ctx context.Context, msg notification.Message) error {
	o.messages = append(o.messages, msg)
	return nil
}

type fixture struct {
	router   chi.Router
	sessions *loginsession.InMemoryRepository
	codes    *codes.InMemoryRepository
	outbox   *outbox
}

func newFixture(t *testing.T, limiter func(http.Handler) http.Handler) *fixture {
	t.Helper()
	lookup := clients.NewInMemoryRepository()
	lookup.PutTenant(clients.Tenant{ID: tenantID})
	lookup.PutClient(clients.Client{ClientID: "app", TenantID: tenantID, CallbackURLs: []string{callback}})

	f := &fixture{
		sessions: loginsession.NewInMemoryRepository(),
		codes:    codes.NewInMemoryRepository(),
		outbox:   &outbox{},
	}
	userRepo := users.NewInMemoryRepository()
	builder := frontchannel.NewDefaultBuilder(f.sessions, f.codes, frontchannel.DefaultBuilderConfig{SigningKey: []byte("secret")})
	pwd := passwordless.NewService(lookup, f.codes, f.sessions, userRepo, builder)

	manager := notification.NewManager()
	manager.RegisterNotifier(notification.ChannelEmail, f.outbox)

	logins, err := loginflow.NewService(workflow.NewEngine(workflow.NewRegistry()), &loginflow.Deps{
		Sessions:     f.sessions,
		Codes:        f.codes,
		Users:        userRepo,
		Clients:      lookup,
		Passwordless: pwd,
		PageHooks:    pagehooks.NewService(permissions.NewInMemoryRepository(), lookup, f.sessions, ""),
		Builder:      builder,
		Notifier:     manager,
	}, loginflow.DefaultOptions())
	require.NoError(t, err)

	f.router = chi.NewRouter()
	f.router.Use(requestctx.Middleware(tenantID))
	NewHandle(logins, pwd).WithGrantLimiter(limiter).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeScreen(t *testing.T, rec *httptest.ResponseRecorder) ScreenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ScreenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandle_BrowserLogin(t *testing.T) {
	f := newFixture(t, nil)

	query := url.Values{"client_id": {"app"}, "redirect_uri": {callback}, "state": {"xyz"}}
	rec := f.do(httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	screenPath := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(screenPath, "/u/login/"), screenPath)
	loginID := strings.TrimPrefix(screenPath, "/u/login/")

	screen := decodeScreen(t, f.do(httptest.NewRequest(http.MethodGet, screenPath, nil)))
	assert.Equal(t, loginID, screen.State)
	assert.Equal(t, loginflow.StepIdentifier, screen.Step)
	assert.Equal(t, screenPath, screen.Screen.Action)
	assert.NotEmpty(t, screen.Screen.Components)

	form := httptest.NewRequest(http.MethodPost, screenPath, strings.NewReader(url.Values{"username": {"a@b.com"}}.Encode()))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	screen = decodeScreen(t, f.do(form))
	assert.Equal(t, loginflow.StepEnterCode, screen.Step)

	require.Len(t, f.outbox.messages, 1)
	assert.Equal(t, "a@b.com", f.outbox.messages[0].To)
	code := otpPattern.FindString(f.outbox.messages[0].Text)
	require.NotEmpty(t, code)

	submit := httptest.NewRequest(http.MethodPost, screenPath, strings.NewReader(`{"code":"`+code+`"}`))
	submit.Header.Set("Content-Type", "application/json")
	rec = f.do(submit)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "xyz", location.Query().Get("state"))
	assert.NotEmpty(t, location.Query().Get("code"))

	rec = f.do(httptest.NewRequest(http.MethodGet, screenPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(workflow.ErrCodeStateNotFound), decodeError(t, rec).Error)
}

func TestHandle_AuthorizeErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{"missing client", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown client", "client_id=other", http.StatusNotFound, "client_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(httptest.NewRequest(http.MethodGet, "/authorize?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestHandle_UnknownState(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/u/login/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_MissingTenant(t *testing.T) {
	h := NewHandle(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/u/login/abc", nil)
	h.GetScreen(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tenant_not_found", decodeError(t, rec).Error)
}

func (f *fixture) pendingLogin(t *testing.T, otp string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.sessions.Create(ctx, tenantID, loginsession.LoginSession{
		ID:         "login-1",
		AuthParams: loginsession.AuthParams{ClientID: "app", Username: "a@b.com", RedirectURI: callback},
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.codes.Create(ctx, tenantID, codes.Code{
		CodeID:    otp,
		LoginID:   "login-1",
		CodeType:  codes.CodeTypeOTP,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(5 * time.Minute),
	})
	require.NoError(t, err)
}

func verifyRequest(otp string) *http.Request {
	body := `{"client_id":"app","username":"a@b.com","otp":"` + otp + `","state":"s1"}`
	req := httptest.NewRequest(http.MethodPost, "/passwordless/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandle_PasswordlessVerify(t *testing.T) {
	f := newFixture(t, nil)
	f.pendingLogin(t, "123456")

	rec := f.do(verifyRequest("123456"))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "s1", location.Query().Get("state"))
	assert.NotEmpty(t, location.Query().Get("code"))

	rec = f.do(verifyRequest("123456"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "code_used", decodeError(t, rec).Error)
}

func TestHandle_PasswordlessVerifyBadBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/passwordless/verify", strings.NewReader("{"))
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandle_PasswordlessVerifyRateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(1, 0.001)
	f := newFixture(t, ratelimit.PerIP(limiter, 60))

	rec := f.do(verifyRequest("000000"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(verifyRequest("000000"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCompletion(t *testing.T) {
	resp := completion(map[string]any{
		"status": float64(200),
		"body":   map[string]any{"code": "abc", "ignored": 1},
	})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]string{"code": "abc"}, resp.Body)
	assert.False(t, resp.IsRedirect())
}
