package loginsession

import (
	"time"
)

// State is the lifecycle state of a login session.
type State string

const (
	StatePending                   State = "pending"
	StateAuthenticated             State = "authenticated"
	StateAwaitingEmailVerification State = "awaiting_email_verification"
	StateAwaitingHook              State = "awaiting_hook"
	StateAwaitingContinuation      State = "awaiting_continuation"
	StateCompleted                 State = "completed"
	StateFailed                    State = "failed"
	StateExpired                   State = "expired"
)

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// AuthParams are the authorization request parameters captured when the
// login session was created.
type AuthParams struct {
	ClientID     string `json:"client_id"`
	Username     string `json:"username,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	ResponseMode string `json:"response_mode,omitempty"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Audience     string `json:"audience,omitempty"`
}

// LoginSession is the durable root of a login attempt. The workflow engine's
// state is stored inside PipelineState.
type LoginSession struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	AuthParams    AuthParams    `json:"authParams"`
	State         State         `json:"state"`
	StateData     Context       `json:"state_data"`
	UserID        string        `json:"user_id,omitempty"`
	IP            string        `json:"ip,omitempty"`
	UserAgent     string        `json:"useragent,omitempty"`
	PipelineState PipelineState `json:"pipeline_state"`
	// Version is incremented on every pipeline_state write and used as an
	// optimistic concurrency token.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CurrentState returns the session state, treating an unset state as pending.
func (s *LoginSession) CurrentState() State {
	if s.State == "" {
		return StatePending
	}
	return s.State
}

// PipelineStep describes what a session is waiting on in the shape that
// pre-workflow code paths understand.
type PipelineStep struct {
	Type string `json:"type"` // "form" or "action"
	ID   string `json:"id"`
	Step string `json:"step,omitempty"`
}

const (
	PipelineStepForm   = "form"
	PipelineStepAction = "action"
)

// PipelineState is the JSON document stored on the login session.
type PipelineState struct {
	Position int            `json:"position"`
	Current  *PipelineStep  `json:"current"`
	Context  map[string]any `json:"context"`
}

// EmptyPipelineState returns the reset pipeline document.
func EmptyPipelineState() PipelineState {
	return PipelineState{
		Position: 0,
		Current:  nil,
		Context:  map[string]any{},
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	AuthParams    *AuthParams
	State         *State
	StateData     *Context
	UserID        *string
	PipelineState *PipelineState
	ExpiresAt     *time.Time

	// ExpectedVersion, when set, makes the update conditional on the stored
	// version. It is only meaningful together with PipelineState.
	ExpectedVersion *int64
}

// TransitionPatch returns the patch persisting a state machine result.
func TransitionPatch(result TransitionResult) Patch {
	state := result.State
	ctx := result.Context
	p := Patch{
		State:     &state,
		StateData: &ctx,
	}
	if result.Context.UserID != "" {
		userID := result.Context.UserID
		p.UserID = &userID
	}
	return p
}

// apply mutates s according to p. Pipeline writes bump the version.
func (p Patch) apply(s *LoginSession, now time.Time) {
	if p.AuthParams != nil {
		s.AuthParams = *p.AuthParams
	}
	if p.State != nil {
		s.State = *p.State
	}
	if p.StateData != nil {
		s.StateData = *p.StateData
	}
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
	if p.PipelineState != nil {
		s.PipelineState = *p.PipelineState
		if s.PipelineState.Context == nil {
			s.PipelineState.Context = map[string]any{}
		}
		s.Version++
	}
	s.UpdatedAt = now
}
