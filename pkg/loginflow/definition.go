package loginflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/clients"
	"github.com/markusahlstrand/authhero-sub008/pkg/codes"
	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/notification"
	"github.com/markusahlstrand/authhero-sub008/pkg/pagehooks"
	"github.com/markusahlstrand/authhero-sub008/pkg/passwordless"
	"github.com/markusahlstrand/authhero-sub008/pkg/users"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

const WorkflowID = "login"

const (
	StepIdentifier         = "identifier"
	StepSendCode           = "send-code"
	StepEnterCode          = "enter-code"
	StepPostAuthentication = "post-authentication"
	StepVerifyEmail        = "verify-email"
	StepHookReturn         = "hook-return"
	StepContinuationReturn = "continuation-return"
)

// PageHook sends users to a universal login page after authentication.
// PermissionRequired limits the hook to users holding that permission. A
// Continuation hook opens a continuation instead of a plain hook, granting
// the page Scope on the user until the login resumes.
type PageHook struct {
	PageID             string   `json:"page_id"`
	PermissionRequired string   `json:"permission_required,omitempty"`
	Continuation       bool     `json:"continuation,omitempty"`
	Scope              []string `json:"scope,omitempty"`
}

// Options configures the login workflow.
type Options struct {
	OTPExpiration        time.Duration
	SessionExpiration    time.Duration
	EnforceIPCheck       bool
	RequireVerifiedEmail bool
	PageHooks            []PageHook
	UniversalLoginPath   string
}

func DefaultOptions() Options {
	return Options{
		OTPExpiration:      5 * time.Minute,
		SessionExpiration:  30 * time.Minute,
		UniversalLoginPath: "/u/login",
	}
}

// Notifier delivers rendered notifications. *notification.Manager
// implements it.
type Notifier interface {
	Notify(ctx context.Context, kind notification.Kind, channel notification.Channel, to string, data any) error
}

// Deps are the collaborators the steps use. They are handed to the engine
// as workflow.Services.Data.
type Deps struct {
	Sessions     loginsession.Repository
	Codes        codes.Repository
	Users        users.Repository
	Clients      clients.Lookup
	Passwordless *passwordless.Service
	PageHooks    *pagehooks.Service
	Builder      frontchannel.Builder
	Notifier     Notifier
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

// flowContext is the typed view of the workflow context. Error and
// PendingHook are always written so that a later step clears them.
type flowContext struct {
	Username    string   `json:"username,omitempty"`
	Connection  string   `json:"connection,omitempty"`
	UserID      string   `json:"userId,omitempty"`
	Error       string   `json:"error"`
	PendingHook string   `json:"pendingHook"`
	HooksDone   []string `json:"hooksDone,omitempty"`
}

type codeMessage struct {
	Code      string
	ExpiresIn string
}

// NewDefinition builds the login workflow.
func NewDefinition(opts Options) workflow.Definition {
	f := &flow{opts: opts}
	return workflow.Definition{
		ID:        WorkflowID,
		StartStep: StepIdentifier,
		Steps: map[string]workflow.StepDefinition{
			StepIdentifier: {
				ID:        StepIdentifier,
				Type:      workflow.StepTypeScreen,
				GetScreen: f.identifierScreen,
				Execute:   f.submitIdentifier,
			},
			StepSendCode: {
				ID:      StepSendCode,
				Type:    workflow.StepTypeAction,
				Execute: f.sendCode,
				Next:    StepEnterCode,
			},
			StepEnterCode: {
				ID:        StepEnterCode,
				Type:      workflow.StepTypeScreen,
				GetScreen: f.enterCodeScreen,
				Execute:   f.submitCode,
			},
			StepPostAuthentication: {
				ID:      StepPostAuthentication,
				Type:    workflow.StepTypeCondition,
				Execute: f.postAuthentication,
			},
			StepVerifyEmail: {
				ID:        StepVerifyEmail,
				Type:      workflow.StepTypeScreen,
				GetScreen: f.verifyEmailScreen,
				Execute:   f.submitEmailVerification,
			},
			StepHookReturn: {
				ID:      StepHookReturn,
				Type:    workflow.StepTypeAction,
				Execute: f.hookReturn,
			},
			StepContinuationReturn: {
				ID:      StepContinuationReturn,
				Type:    workflow.StepTypeAction,
				Execute: f.continuationReturn,
			},
		},
	}
}

type flow struct {
	opts Options
}

func depsOf(sc *workflow.StepContext) (*Deps, error) {
	d, ok := sc.Services.Data.(*Deps)
	if !ok || d == nil {
		return nil, fmt.Errorf("login workflow requires *loginflow.Deps, got %T", sc.Services.Data)
	}
	return d, nil
}

func inputString(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return strings.TrimSpace(v)
}

func (f *flow) session(ctx context.Context, d *Deps, sc *workflow.StepContext) (*loginsession.LoginSession, error) {
	session, err := d.Sessions.Get(ctx, sc.Services.TenantID, sc.StateID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("login session %s not found", sc.StateID)
	}
	return session, nil
}

// transition applies event to the stored session and persists it. A
// rejected event is an error.
func (f *flow) transition(ctx context.Context, d *Deps, tenantID string, session *loginsession.LoginSession, event loginsession.Event) error {
	result := loginsession.TransitionFromEntity(session, event)
	if !result.Accepted {
		return fmt.Errorf("login session %s cannot take %s in state %s", session.ID, event.Type, session.CurrentState())
	}
	if err := d.Sessions.Update(ctx, tenantID, session.ID, loginsession.TransitionPatch(result)); err != nil {
		return fmt.Errorf("failed to update login session: %w", err)
	}
	session.ApplyTransition(result)
	return nil
}

func (f *flow) submitIdentifier(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	username := inputString(sc.Input, "username")
	connection, ok := passwordless.ConnectionFor(username)
	if !ok {
		return workflow.ShowScreen(StepIdentifier, map[string]any{
			"username": username,
			"error":    string(errors.ErrCodeInvalidUsername),
		}), nil
	}
	if connection == users.ConnectionEmail {
		username = strings.ToLower(username)
	}

	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	auth := session.AuthParams
	auth.Username = username
	if err := d.Sessions.Update(ctx, sc.Services.TenantID, session.ID, loginsession.Patch{AuthParams: &auth}); err != nil {
		return workflow.StepResult{}, fmt.Errorf("failed to store username: %w", err)
	}

	next, err := workflow.EncodeContext(flowContext{Username: username, Connection: connection})
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Next(StepSendCode, next), nil
}

func (f *flow) sendCode(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	fc, err := workflow.DecodeContext[flowContext](sc.Context)
	if err != nil {
		return workflow.StepResult{}, err
	}

	code, err := codes.Issue(ctx, d.Codes, codes.IssueParams{
		TenantID: sc.Services.TenantID,
		LoginID:  sc.StateID,
		CodeType: codes.CodeTypeOTP,
		TTL:      f.opts.OTPExpiration,
		Now:      d.now(),
	})
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("failed to issue login code: %w", err)
	}
	channel := notification.ChannelEmail
	if fc.Connection == users.ConnectionSMS {
		channel = notification.ChannelSMS
	}
	msg := codeMessage{Code: code.CodeID, ExpiresIn: f.opts.OTPExpiration.String()}
	if err := d.Notifier.Notify(ctx, notification.KindLoginCode, channel, fc.Username, msg); err != nil {
		return workflow.StepResult{}, fmt.Errorf("failed to deliver login code: %w", err)
	}
	return workflow.Next(StepEnterCode, nil), nil
}

// retryable grant failures are shown on the code screen.
var retryable = []errors.ErrorCode{
	errors.ErrCodeCodeNotFound,
	errors.ErrCodeCodeExpired,
	errors.ErrCodeCodeUsed,
	errors.ErrCodeUsernameMismatch,
	errors.ErrCodeRateLimitExceeded,
}

func (f *flow) submitCode(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	fc, err := workflow.DecodeContext[flowContext](sc.Context)
	if err != nil {
		return workflow.StepResult{}, err
	}
	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}

	verified, redirect, err := d.Passwordless.Verify(ctx, passwordless.GrantParams{
		ClientID:       session.AuthParams.ClientID,
		Username:       fc.Username,
		OTP:            inputString(sc.Input, "code"),
		EnforceIPCheck: f.opts.EnforceIPCheck,
	})
	if err != nil {
		if code := errors.GetCode(err); slices.Contains(retryable, code) {
			return workflow.ShowScreen(StepEnterCode, map[string]any{"error": string(code)}), nil
		}
		return workflow.StepResult{}, err
	}
	if redirect != nil {
		return workflow.Redirect(redirect.Location, nil), nil
	}
	if verified.Session.ID != session.ID {
		return workflow.ShowScreen(StepEnterCode, map[string]any{"error": string(errors.ErrCodeInvalidSession)}), nil
	}

	if err := f.transition(ctx, d, sc.Services.TenantID, session, loginsession.Event{
		Type:   loginsession.EventAuthenticate,
		UserID: verified.User.UserID,
	}); err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Next(StepPostAuthentication, map[string]any{
		"userId": verified.User.UserID,
		"error":  "",
	}), nil
}

// postAuthentication is the hub. It runs every time the session returns to
// AUTHENTICATED and picks the next sub-flow, or completes the login.
func (f *flow) postAuthentication(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	fc, err := workflow.DecodeContext[flowContext](sc.Context)
	if err != nil {
		return workflow.StepResult{}, err
	}
	tenantID := sc.Services.TenantID
	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if state := session.CurrentState(); state != loginsession.StateAuthenticated {
		return workflow.Fail(workflow.ErrCodeStepExecutionFailed, fmt.Sprintf("login session is %s, expected %s", state, loginsession.StateAuthenticated)), nil
	}
	user, err := d.Users.Get(ctx, tenantID, session.UserID)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if user == nil {
		return workflow.StepResult{}, fmt.Errorf("user %s not found", session.UserID)
	}

	if f.opts.RequireVerifiedEmail && user.Email != "" && !user.EmailVerified {
		if err := f.transition(ctx, d, tenantID, session, loginsession.Event{Type: loginsession.EventRequireEmailVerification}); err != nil {
			return workflow.StepResult{}, err
		}
		code, err := codes.Issue(ctx, d.Codes, codes.IssueParams{
			TenantID: tenantID,
			LoginID:  session.ID,
			UserID:   user.UserID,
			CodeType: codes.CodeTypeEmailVerification,
			TTL:      f.opts.OTPExpiration,
			Now:      d.now(),
		})
		if err != nil {
			return workflow.StepResult{}, fmt.Errorf("failed to issue verification code: %w", err)
		}
		if err := d.Notifier.Notify(ctx, notification.KindEmailVerification, notification.ChannelEmail, user.Email, codeMessage{Code: code.CodeID}); err != nil {
			return workflow.StepResult{}, fmt.Errorf("failed to deliver verification code: %w", err)
		}
		return workflow.ShowScreen(StepVerifyEmail, nil), nil
	}

	done := slices.Clone(fc.HooksDone)
	for _, hook := range f.opts.PageHooks {
		if slices.Contains(done, hook.PageID) {
			continue
		}
		var outcome pagehooks.Outcome
		resumeAt := StepHookReturn
		if hook.Continuation {
			resumeAt = StepContinuationReturn
			outcome, err = d.PageHooks.StartContinuation(ctx, hook.PageID, hook.Scope, session, user, hook.PermissionRequired)
		} else {
			outcome, err = d.PageHooks.HandlePageHook(ctx, hook.PageID, session, user, hook.PermissionRequired)
		}
		if err != nil {
			return workflow.StepResult{}, err
		}
		done = append(done, hook.PageID)
		if outcome.Redirected() {
			return workflow.Redirect(outcome.Response.Location, map[string]any{
				"hooksDone":   done,
				"pendingHook": hook.PageID,
			}).ResumeAt(resumeAt), nil
		}
	}

	client, err := d.Clients.GetEnrichedClient(ctx, tenantID, session.AuthParams.ClientID)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := d.Builder.Build(ctx, frontchannel.Params{
		TenantID: tenantID,
		Client:   client,
		Session:  session,
		User:     user,
	})
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Complete(map[string]any{
		"status":   resp.Status,
		"location": resp.Location,
		"body":     resp.Body,
		"user_id":  user.UserID,
	}), nil
}

func (f *flow) submitEmailVerification(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	tenantID := sc.Services.TenantID
	value := inputString(sc.Input, "code")

	code, err := d.Codes.Get(ctx, tenantID, value, codes.CodeTypeEmailVerification)
	if err != nil {
		return workflow.StepResult{}, err
	}
	var failure errors.ErrorCode
	switch {
	case code == nil || code.LoginID != sc.StateID:
		failure = errors.ErrCodeCodeNotFound
	case code.IsExpired(d.now()):
		failure = errors.ErrCodeCodeExpired
	case code.IsUsed():
		failure = errors.ErrCodeCodeUsed
	}
	if failure == "" {
		// Used fails if another request consumed the code after Get.
		if err := d.Codes.Used(ctx, tenantID, code.CodeID, codes.CodeTypeEmailVerification); err != nil {
			if !errors.IsCode(err, errors.ErrCodeCodeUsed) && !errors.IsCode(err, errors.ErrCodeCodeNotFound) {
				return workflow.StepResult{}, err
			}
			failure = errors.GetCode(err)
		}
	}
	if failure != "" {
		return workflow.ShowScreen(StepVerifyEmail, map[string]any{"error": string(failure)}), nil
	}

	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	user, err := d.Users.Get(ctx, tenantID, session.UserID)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if user == nil {
		return workflow.StepResult{}, fmt.Errorf("user %s not found", session.UserID)
	}
	user.EmailVerified = true
	if err := d.Users.Update(ctx, tenantID, *user); err != nil {
		return workflow.StepResult{}, err
	}

	if err := f.transition(ctx, d, tenantID, session, loginsession.Event{Type: loginsession.EventComplete}); err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Next(StepPostAuthentication, map[string]any{"error": ""}), nil
}

func (f *flow) hookReturn(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	fc, err := workflow.DecodeContext[flowContext](sc.Context)
	if err != nil {
		return workflow.StepResult{}, err
	}
	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if session.CurrentState() != loginsession.StateAwaitingHook || session.StateData.HookID != fc.PendingHook {
		return workflow.Fail(workflow.ErrCodeStepExecutionFailed,
			fmt.Sprintf("login session %s is not waiting for hook %q", session.ID, fc.PendingHook)), nil
	}
	if err := f.transition(ctx, d, sc.Services.TenantID, session, loginsession.Event{Type: loginsession.EventCompleteHook}); err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Next(StepPostAuthentication, map[string]any{"pendingHook": ""}), nil
}

// continuationReturn runs when the browser comes back from a continuation
// page. The user may have been changed by the page, so the hub reloads it.
func (f *flow) continuationReturn(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
	d, err := depsOf(sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	fc, err := workflow.DecodeContext[flowContext](sc.Context)
	if err != nil {
		return workflow.StepResult{}, err
	}
	session, err := f.session(ctx, d, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if session.CurrentState() != loginsession.StateAwaitingContinuation {
		return workflow.Fail(workflow.ErrCodeStepExecutionFailed,
			fmt.Sprintf("login session %s is not waiting for continuation %q", session.ID, fc.PendingHook)), nil
	}
	if err := f.transition(ctx, d, sc.Services.TenantID, session, loginsession.Event{Type: loginsession.EventCompleteContinuation}); err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.Next(StepPostAuthentication, map[string]any{"pendingHook": ""}), nil
}
