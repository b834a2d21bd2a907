// Package pagehooks sends an authenticated user to a universal login page
// before the login completes, optionally only when the user holds a given
// permission.
package pagehooks

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/permissions"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
)

const (
	PrefixV1 = "/u"
	PrefixV2 = "/u2"
)

// Outcome is either the unchanged user, when the hook does not apply, or a
// redirect to the hook page.
type Outcome struct {
	User     *users.User
	Response *frontchannel.Response
}

// Redirected reports whether the caller must send Response instead of
// continuing the login.
func (o Outcome) Redirected() bool {
	return o.Response != nil
}

type Service struct {
	permissions permissions.Repository
	clients     clients.Lookup
	sessions    loginsession.Repository
	baseURL     string
}

// NewService creates a page hook handler. baseURL is prepended to the
// page route and may be empty for relative redirects.
func NewService(perms permissions.Repository, lookup clients.Lookup, sessions loginsession.Repository, baseURL string) *Service {
	return &Service{
		permissions: perms,
		clients:     lookup,
		sessions:    sessions,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// HandlePageHook moves session to AWAITING_HOOK for pageID and returns a
// redirect to the page. When permissionRequired is set and the user lacks
// it, the user is returned unchanged and the session is left alone.
func (s *Service) HandlePageHook(ctx context.Context, pageID string, session *loginsession.LoginSession, user *users.User, permissionRequired string) (Outcome, error) {
	return s.redirect(ctx, pageID, session, user, permissionRequired, loginsession.Event{
		Type:   loginsession.EventStartHook,
		HookID: pageID,
	})
}

// StartContinuation is HandlePageHook for continuation pages: the session
// moves to AWAITING_CONTINUATION and the page may act on the user within
// scope before the login resumes.
func (s *Service) StartContinuation(ctx context.Context, pageID string, scope []string, session *loginsession.LoginSession, user *users.User, permissionRequired string) (Outcome, error) {
	return s.redirect(ctx, pageID, session, user, permissionRequired, loginsession.Event{
		Type:  loginsession.EventStartContinuation,
		Scope: scope,
	})
}

func (s *Service) redirect(ctx context.Context, pageID string, session *loginsession.LoginSession, user *users.User, permissionRequired string, event loginsession.Event) (Outcome, error) {
	tenantID := session.TenantID

	if permissionRequired != "" {
		perms, err := s.permissions.List(ctx, tenantID, user.UserID)
		if err != nil {
			return Outcome{}, errors.InternalWrap(err, "failed to list user permissions")
		}
		if !permissions.Has(perms, permissionRequired) {
			slog.Debug("Page hook skipped", "page_id", pageID, "user_id", user.UserID, "permission", permissionRequired)
			return Outcome{User: user}, nil
		}
	}

	client, err := s.clients.GetEnrichedClient(ctx, tenantID, session.AuthParams.ClientID)
	if err != nil {
		return Outcome{}, err
	}

	result := loginsession.TransitionFromEntity(session, event)
	if !result.Accepted {
		return Outcome{}, errors.Newf(errors.ErrCodeInvalidTransition, "cannot take %s from %s", event.Type, session.CurrentState()).
			WithDetail("login_id", session.ID).
			WithDetail("page_id", pageID)
	}
	if err := s.sessions.Update(ctx, tenantID, session.ID, loginsession.TransitionPatch(result)); err != nil {
		return Outcome{}, errors.InternalWrap(err, "failed to update login session")
	}
	session.ApplyTransition(result)

	prefix := PrefixV1
	if client.UniversalLoginVersion() == "2" {
		prefix = PrefixV2
	}
	location := s.baseURL + prefix + "/" + url.PathEscape(pageID) + "?state=" + url.QueryEscape(session.ID)
	slog.Info("Redirecting to page hook", "tenant_id", tenantID, "login_id", session.ID, "page_id", pageID, "event", event.Type)
	return Outcome{User: user, Response: frontchannel.Redirect(location)}, nil
}
