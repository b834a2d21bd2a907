package loginsession

import (
	"slices"
)

// EventType names an input to the login session state machine.
type EventType string

const (
	EventAuthenticate             EventType = "AUTHENTICATE"
	EventRequireEmailVerification EventType = "REQUIRE_EMAIL_VERIFICATION"
	EventStartHook                EventType = "START_HOOK"
	EventCompleteHook             EventType = "COMPLETE_HOOK"
	EventStartContinuation        EventType = "START_CONTINUATION"
	EventCompleteContinuation     EventType = "COMPLETE_CONTINUATION"
	EventComplete                 EventType = "COMPLETE"
	EventFail                     EventType = "FAIL"
	EventExpire                   EventType = "EXPIRE"
)

// allEvents is the stable order used by ValidEvents.
var allEvents = []EventType{
	EventAuthenticate,
	EventRequireEmailVerification,
	EventStartHook,
	EventCompleteHook,
	EventStartContinuation,
	EventCompleteContinuation,
	EventComplete,
	EventFail,
	EventExpire,
}

// Event is a state machine input. Only the fields relevant to Type are read.
type Event struct {
	Type   EventType
	UserID string   // AUTHENTICATE
	HookID string   // START_HOOK
	Scope  []string // START_CONTINUATION
	Reason string   // FAIL
}

// Context is the data accreted by transitions. Callers never mutate it
// directly; it changes only through Transition.
type Context struct {
	UserID            string         `json:"userId,omitempty"`
	FailureReason     string         `json:"failureReason,omitempty"`
	HookID            string         `json:"hookId,omitempty"`
	ContinuationScope []string       `json:"continuationScope,omitempty"`
	StateData         map[string]any `json:"stateData,omitempty"`
}

// ContextDiff is the change a transition makes to the Context. Empty string
// fields mean "unchanged".
type ContextDiff struct {
	UserID                 string
	FailureReason          string
	HookID                 string
	ContinuationScope      []string
	ClearHookID            bool
	ClearContinuationScope bool
	// Discard is set when a terminal state drops the accreted context.
	Discard bool
}

// IsEmpty reports whether the diff changes nothing.
func (d ContextDiff) IsEmpty() bool {
	return d.UserID == "" && d.FailureReason == "" && d.HookID == "" &&
		d.ContinuationScope == nil && !d.ClearHookID && !d.ClearContinuationScope && !d.Discard
}

// Apply returns c with the diff applied. c is not modified.
func (d ContextDiff) Apply(c Context) Context {
	out := c
	out.ContinuationScope = slices.Clone(c.ContinuationScope)
	if d.Discard {
		out = Context{}
	}
	if d.UserID != "" {
		out.UserID = d.UserID
	}
	if d.FailureReason != "" {
		out.FailureReason = d.FailureReason
	}
	if d.HookID != "" {
		out.HookID = d.HookID
	}
	if d.ClearHookID {
		out.HookID = ""
	}
	if d.ContinuationScope != nil {
		out.ContinuationScope = slices.Clone(d.ContinuationScope)
	}
	if d.ClearContinuationScope {
		out.ContinuationScope = nil
	}
	return out
}

// TransitionResult is the outcome of Transition. Accepted is false when the
// event was not valid in the current state; State is then unchanged and
// Diff is empty.
type TransitionResult struct {
	State    State
	Diff     ContextDiff
	Context  Context
	Accepted bool
}

type transition struct {
	target State
	mutate func(Event) ContextDiff
}

func noChange(Event) ContextDiff { return ContextDiff{} }

func setUser(e Event) ContextDiff { return ContextDiff{UserID: e.UserID} }

func setHook(e Event) ContextDiff { return ContextDiff{HookID: e.HookID} }

func clearHook(Event) ContextDiff { return ContextDiff{ClearHookID: true} }

func setScope(e Event) ContextDiff {
	scope := e.Scope
	if scope == nil {
		scope = []string{}
	}
	return ContextDiff{ContinuationScope: scope}
}

func clearScope(Event) ContextDiff { return ContextDiff{ClearContinuationScope: true} }

// fail keeps only the failure reason; the rest of the context is discarded
// because FAILED is terminal.
func fail(e Event) ContextDiff {
	reason := e.Reason
	if reason == "" {
		reason = "unknown"
	}
	return ContextDiff{Discard: true, FailureReason: reason}
}

func discard(Event) ContextDiff { return ContextDiff{Discard: true} }

var transitions = func() map[State]map[EventType]transition {
	table := map[State]map[EventType]transition{
		StatePending: {
			EventAuthenticate: {StateAuthenticated, setUser},
		},
		StateAuthenticated: {
			EventRequireEmailVerification: {StateAwaitingEmailVerification, noChange},
			EventStartHook:                {StateAwaitingHook, setHook},
			EventStartContinuation:        {StateAwaitingContinuation, setScope},
			EventComplete:                 {StateCompleted, discard},
		},
		StateAwaitingEmailVerification: {
			EventComplete: {StateAuthenticated, noChange},
		},
		StateAwaitingHook: {
			EventCompleteHook:      {StateAuthenticated, clearHook},
			EventStartContinuation: {StateAwaitingContinuation, setScope},
		},
		StateAwaitingContinuation: {
			EventCompleteContinuation: {StateAuthenticated, clearScope},
		},
	}
	for _, events := range table {
		events[EventFail] = transition{StateFailed, fail}
		events[EventExpire] = transition{StateExpired, discard}
	}
	return table
}()

// Transition applies event to state. It never fails: an event that is not
// valid in state leaves the state unchanged, so callers must check Accepted
// (or compare states) to learn whether the event was taken.
func Transition(state State, event Event, ctx Context) TransitionResult {
	t, ok := transitions[state][event.Type]
	if !ok {
		return TransitionResult{State: state, Context: ctx}
	}
	diff := t.mutate(event)
	return TransitionResult{
		State:    t.target,
		Diff:     diff,
		Context:  diff.Apply(ctx),
		Accepted: true,
	}
}

// CanTransition reports whether an event of the given type would change
// state. It builds a minimal synthetic event to look up the table.
func CanTransition(state State, eventType EventType, ctx Context) bool {
	event := Event{Type: eventType}
	switch eventType {
	case EventAuthenticate:
		event.UserID = "any"
	case EventStartHook:
		event.HookID = "any"
	case EventStartContinuation:
		event.Scope = []string{}
	case EventFail:
		event.Reason = "any"
	}
	return Transition(state, event, ctx).State != state
}

// ValidEvents lists the event types accepted in state.
func ValidEvents(state State) []EventType {
	var events []EventType
	for _, et := range allEvents {
		if CanTransition(state, et, Context{}) {
			events = append(events, et)
		}
	}
	return events
}

// EntityContext rebuilds the state machine context from a stored session.
func EntityContext(session *LoginSession) Context {
	ctx := session.StateData
	if ctx.UserID == "" {
		ctx.UserID = session.UserID
	}
	return ctx
}

// TransitionFromEntity applies event to the state and context stored on
// session. The session is not modified; use ApplyTransition or
// TransitionPatch to persist the result.
func TransitionFromEntity(session *LoginSession, event Event) TransitionResult {
	return Transition(session.CurrentState(), event, EntityContext(session))
}

// ApplyTransition writes an accepted transition onto s.
func (s *LoginSession) ApplyTransition(result TransitionResult) {
	if !result.Accepted {
		return
	}
	s.State = result.State
	s.StateData = result.Context
	if result.Context.UserID != "" {
		s.UserID = result.Context.UserID
	}
}
