package frontchannel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
)

const (
	ResponseTypeCode         = "code"
	ResponseTypeIDToken      = "id_token"
	ResponseTypeTokenIDToken = "token id_token"

	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Params is everything needed to finish a login.
type Params struct {
	TenantID string
	Client   *clients.EnrichedClient
	Session  *loginsession.LoginSession
	User     *users.User
}

// Builder finishes an authenticated login session and produces the
// response returned to the browser.
type Builder interface {
	Build(ctx context.Context, params Params) (*Response, error)
}

type DefaultBuilderConfig struct {
	Issuer     string
	SigningKey []byte
	CodeTTL    time.Duration
	TokenTTL   time.Duration
}

// DefaultBuilder moves the login session to COMPLETED and redirects to the
// client's callback with an authorization code or an HS256 id_token.
type DefaultBuilder struct {
	sessions loginsession.Repository
	codes    codes.Repository
	config   DefaultBuilderConfig
	now      func() time.Time
}

func NewDefaultBuilder(sessions loginsession.Repository, codeRepo codes.Repository, config DefaultBuilderConfig) *DefaultBuilder {
	if config.CodeTTL <= 0 {
		config.CodeTTL = 5 * time.Minute
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}
	return &DefaultBuilder{
		sessions: sessions,
		codes:    codeRepo,
		config:   config,
		now:      time.Now,
	}
}

func (b *DefaultBuilder) Build(ctx context.Context, p Params) (*Response, error) {
	auth := p.Session.AuthParams
	if auth.RedirectURI == "" || !p.Client.AllowsCallback(auth.RedirectURI) {
		return nil, errors.InvalidInput("redirect_uri", "not registered for client").
			WithDetail("client_id", p.Client.ClientID)
	}

	if err := b.complete(ctx, p.TenantID, p.Session, p.User.UserID); err != nil {
		return nil, err
	}

	params := url.Values{}
	responseType := auth.ResponseType
	if responseType == "" {
		responseType = ResponseTypeCode
	}

	switch responseType {
	case ResponseTypeCode:
		code, err := codes.Issue(ctx, b.codes, codes.IssueParams{
			TenantID: p.TenantID,
			LoginID:  p.Session.ID,
			UserID:   p.User.UserID,
			CodeType: codes.CodeTypeAuthorizationCode,
			TTL:      b.config.CodeTTL,
		})
		if err != nil {
			return nil, errors.InternalWrap(err, "failed to issue authorization code")
		}
		params.Set("code", code.CodeID)
	case ResponseTypeIDToken, ResponseTypeTokenIDToken:
		token, err := b.idToken(p)
		if err != nil {
			return nil, errors.InternalWrap(err, "failed to sign id token")
		}
		params.Set("id_token", token)
	default:
		return nil, errors.InvalidInput("response_type", fmt.Sprintf("unsupported %q", responseType))
	}
	if auth.State != "" {
		params.Set("state", auth.State)
	}

	slog.Info("Login completed", "tenant_id", p.TenantID, "login_id", p.Session.ID, "user_id", p.User.UserID, "response_type", responseType)
	return respond(auth.RedirectURI, params, responseMode(auth.ResponseMode, responseType))
}

// complete runs AUTHENTICATE (when still pending) then COMPLETE and
// persists the final state.
func (b *DefaultBuilder) complete(ctx context.Context, tenantID string, session *loginsession.LoginSession, userID string) error {
	if session.CurrentState() == loginsession.StatePending {
		session.ApplyTransition(loginsession.TransitionFromEntity(session, loginsession.Event{
			Type:   loginsession.EventAuthenticate,
			UserID: userID,
		}))
	}
	result := loginsession.TransitionFromEntity(session, loginsession.Event{Type: loginsession.EventComplete})
	if !result.Accepted {
		return errors.Newf(errors.ErrCodeInvalidTransition, "login session cannot complete from %s", session.CurrentState()).
			WithDetail("login_id", session.ID)
	}
	session.ApplyTransition(result)
	session.UserID = userID

	patch := loginsession.TransitionPatch(result)
	patch.UserID = &userID
	if err := b.sessions.Update(ctx, tenantID, session.ID, patch); err != nil {
		return errors.InternalWrap(err, "failed to update login session")
	}
	return nil
}

func (b *DefaultBuilder) idToken(p Params) (string, error) {
	now := b.now()
	claims := jwt.MapClaims{
		"iss": b.config.Issuer,
		"sub": p.User.UserID,
		"aud": p.Client.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(b.config.TokenTTL).Unix(),
		"jti": uuid.New().String(),
		"sid": p.Session.ID,
	}
	if p.Session.AuthParams.Nonce != "" {
		claims["nonce"] = p.Session.AuthParams.Nonce
	}
	if p.User.Email != "" {
		claims["email"] = p.User.Email
		claims["email_verified"] = p.User.EmailVerified
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.config.SigningKey)
}

func responseMode(mode, responseType string) string {
	if mode != "" {
		return mode
	}
	if strings.Contains(responseType, ResponseTypeIDToken) {
		return ResponseModeFragment
	}
	return ResponseModeQuery
}

func respond(redirectURI string, params url.Values, mode string) (*Response, error) {
	if mode == ResponseModeFormPost {
		body := map[string]string{"action": redirectURI}
		for k := range params {
			body[k] = params.Get(k)
		}
		return &Response{Status: http.StatusOK, Body: body}, nil
	}
	location, err := withParams(redirectURI, params, mode == ResponseModeFragment)
	if err != nil {
		return nil, errors.InvalidInput("redirect_uri", err.Error())
	}
	return Redirect(location), nil
}

var _ Builder = (*DefaultBuilder)(nil)
