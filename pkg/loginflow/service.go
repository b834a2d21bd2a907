package loginflow

import (
	"context"
	"log/slog"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/flowstorage"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

// StartParams begins a login.
type StartParams struct {
	AuthParams loginsession.AuthParams
	IP         string
	UserAgent  string
}

// Service runs the login workflow for HTTP handlers.
type Service struct {
	engine *workflow.Engine
	deps   *Deps
	opts   Options
	logger *slog.Logger
}

// NewService registers the login workflow on engine unless a workflow with
// the same id is already registered.
func NewService(engine *workflow.Engine, deps *Deps, opts Options) (*Service, error) {
	if _, ok := engine.Registry().Get(WorkflowID); !ok {
		if err := engine.Register(NewDefinition(opts)); err != nil {
			return nil, err
		}
	}
	return &Service{
		engine: engine,
		deps:   deps,
		opts:   opts,
		logger: slog.Default().With("component", "loginflow"),
	}, nil
}

func (s *Service) services(tenantID string) workflow.Services {
	return workflow.Services{
		TenantID: tenantID,
		Data:     s.deps,
		Storage:  flowstorage.New(s.deps.Sessions, tenantID),
	}
}

// Start creates a login session for the client in params and runs the
// workflow up to its first screen. Errors are returned for requests that
// never reach the engine, such as an unknown client.
func (s *Service) Start(ctx context.Context, tenantID string, params StartParams) (workflow.RunResult, error) {
	ctx = requestctx.WithTenantID(ctx, tenantID)
	if _, err := s.deps.Clients.GetEnrichedClient(ctx, tenantID, params.AuthParams.ClientID); err != nil {
		return workflow.RunResult{}, err
	}

	session, err := s.deps.Sessions.Create(ctx, tenantID, loginsession.LoginSession{
		AuthParams: params.AuthParams,
		IP:         params.IP,
		UserAgent:  params.UserAgent,
		ExpiresAt:  s.deps.now().Add(s.opts.SessionExpiration),
	})
	if err != nil {
		return workflow.RunResult{}, errors.InternalWrap(err, "failed to create login session")
	}
	s.logger.Info("Login started", "tenant_id", tenantID, "login_id", session.ID, "client_id", params.AuthParams.ClientID)

	result := s.engine.Start(ctx, WorkflowID, s.services(tenantID), nil, workflow.WithStateID(session.ID))
	if result.Failed() {
		// The login can never reach a screen; do not leave it PENDING.
		s.settle(ctx, tenantID, session.ID, loginsession.Event{Type: loginsession.EventFail, Reason: string(result.Error.Code)})
	}
	return result, nil
}

// Submit resumes the login with form input. An expired workflow also
// expires its login session.
func (s *Service) Submit(ctx context.Context, tenantID, loginID string, input map[string]any) workflow.RunResult {
	ctx = requestctx.WithTenantID(ctx, tenantID)
	if input == nil {
		input = map[string]any{}
	}
	result := s.engine.Resume(ctx, loginID, s.services(tenantID), input)
	s.afterRun(ctx, tenantID, loginID, result)
	return result
}

// Continue resumes a login suspended on a redirect, e.g. when the browser
// returns from a page hook.
func (s *Service) Continue(ctx context.Context, tenantID, loginID string) workflow.RunResult {
	ctx = requestctx.WithTenantID(ctx, tenantID)
	result := s.engine.Resume(ctx, loginID, s.services(tenantID), nil)
	s.afterRun(ctx, tenantID, loginID, result)
	return result
}

// Screen renders the screen the login is waiting on.
func (s *Service) Screen(ctx context.Context, tenantID, loginID string) workflow.RunResult {
	return s.engine.CurrentScreen(requestctx.WithTenantID(ctx, tenantID), loginID, s.services(tenantID))
}

func (s *Service) afterRun(ctx context.Context, tenantID, loginID string, result workflow.RunResult) {
	if !result.Failed() || result.Error.Code != workflow.ErrCodeWorkflowExpired {
		return
	}
	s.settle(ctx, tenantID, loginID, loginsession.Event{Type: loginsession.EventExpire})
}

// settle applies a terminal event to the login session when the state
// machine accepts it.
func (s *Service) settle(ctx context.Context, tenantID, loginID string, event loginsession.Event) {
	session, err := s.deps.Sessions.Get(ctx, tenantID, loginID)
	if err != nil || session == nil {
		return
	}
	result := loginsession.TransitionFromEntity(session, event)
	if !result.Accepted {
		return
	}
	if err := s.deps.Sessions.Update(ctx, tenantID, loginID, loginsession.TransitionPatch(result)); err != nil {
		s.logger.Error("Failed to update login session", "tenant_id", tenantID, "login_id", loginID, "event", event.Type, "err", err)
	}
}
