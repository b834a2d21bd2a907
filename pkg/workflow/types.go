package workflow

import (
	"context"
	"fmt"
	"time"
)

// StepType classifies a step.
type StepType string

const (
	StepTypeScreen    StepType = "screen"
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeRedirect  StepType = "redirect"
)

// SuspensionType says what a suspended workflow is waiting for.
type SuspensionType string

const (
	SuspendScreen   SuspensionType = "screen"
	SuspendRedirect SuspensionType = "redirect"
	SuspendWebhook  SuspensionType = "webhook"
)

// Suspension records why a workflow stopped running.
type Suspension struct {
	Type     SuspensionType `json:"type"`
	ScreenID string         `json:"screenId,omitempty"`
	URL      string         `json:"url,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// State is the persisted position of one workflow instance. Suspended is nil
// only while a run is in progress.
type State struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	Step       string         `json:"step"`
	Suspended  *Suspension    `json:"suspended"`
	Context    map[string]any `json:"context"`
	CreatedAt  time.Time      `json:"createdAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`

	// Revision is the storage concurrency token. Zero means the state has
	// never been saved. Storage implementations advance it on Save.
	Revision int64 `json:"revision,omitempty"`
}

// Component is one element of a screen.
type Component struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Required bool           `json:"required,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Screen describes a form to render. The engine does not interpret it.
type Screen struct {
	Action     string      `json:"action"`
	Method     string      `json:"method"`
	Title      string      `json:"title,omitempty"`
	Components []Component `json:"components"`
}

// Services is what a run needs from its caller. Data is handed to every step
// untouched; Storage is where the state is persisted.
type Services struct {
	TenantID string
	Data     any
	Storage  Storage
}

// StepContext is passed to GetScreen and Execute. Context is a copy: steps
// change workflow context only by returning it in a StepResult.
type StepContext struct {
	StateID    string
	WorkflowID string
	Step       string
	Context    map[string]any
	Input      map[string]any
	Services   Services
}

// StepDefinition is one node of a workflow.
type StepDefinition struct {
	ID        string
	Type      StepType
	GetScreen func(ctx context.Context, sc *StepContext) (*Screen, error)
	Execute   func(ctx context.Context, sc *StepContext) (StepResult, error)
	// Next is used when Execute is absent, or returns a next result with
	// no step.
	Next string
}

// ResultType discriminates StepResult and RunResult.
type ResultType string

const (
	ResultNext     ResultType = "next"
	ResultScreen   ResultType = "screen"
	ResultRedirect ResultType = "redirect"
	ResultComplete ResultType = "complete"
	ResultError    ResultType = "error"
)

// StepResult is what Execute returns. Build it with Next, ShowScreen,
// Redirect, Complete or Fail.
type StepResult struct {
	Type     ResultType
	Step     string
	ScreenID string
	URL      string
	Context  map[string]any
	Result   map[string]any
	Code     ErrorCode
	Message  string
}

// Next moves to step without suspending.
func Next(step string, ctx map[string]any) StepResult {
	return StepResult{Type: ResultNext, Step: step, Context: ctx}
}

// ShowScreen suspends on the screen of step screenID.
func ShowScreen(screenID string, ctx map[string]any) StepResult {
	return StepResult{Type: ResultScreen, ScreenID: screenID, Context: ctx}
}

// Redirect suspends and hands control to url.
func Redirect(url string, ctx map[string]any) StepResult {
	return StepResult{Type: ResultRedirect, URL: url, Context: ctx}
}

// ResumeAt sets the step a redirect resumes at. Without it the workflow
// resumes at the step that issued the redirect.
func (r StepResult) ResumeAt(step string) StepResult {
	r.Step = step
	return r
}

// Complete finishes the workflow.
func Complete(result map[string]any) StepResult {
	return StepResult{Type: ResultComplete, Result: result}
}

// Fail ends the run with an error result.
func Fail(code ErrorCode, message string) StepResult {
	return StepResult{Type: ResultError, Code: code, Message: message}
}

// Hooks are optional lifecycle callbacks.
type Hooks struct {
	// OnStart runs before the first step. An error aborts the start and
	// nothing is persisted.
	OnStart func(ctx context.Context, state *State, services Services) error
	// OnComplete runs once when the workflow completes. Errors are logged.
	OnComplete func(ctx context.Context, state *State, result map[string]any, services Services) error
	// OnError observes failed runs.
	OnError func(ctx context.Context, state *State, runErr *RunError, services Services)
}

// Definition is a registered workflow.
type Definition struct {
	ID             string
	StartStep      string
	Steps          map[string]StepDefinition
	DefaultContext map[string]any
	Hooks          Hooks
}

// ErrorCode identifies a failed run.
type ErrorCode string

const (
	ErrCodeWorkflowNotFound     ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrCodeStateNotFound        ErrorCode = "STATE_NOT_FOUND"
	ErrCodeStepNotFound         ErrorCode = "STEP_NOT_FOUND"
	ErrCodeWorkflowExpired      ErrorCode = "WORKFLOW_EXPIRED"
	ErrCodeStartHookFailed      ErrorCode = "START_HOOK_FAILED"
	ErrCodeStepExecutionFailed  ErrorCode = "STEP_EXECUTION_FAILED"
	ErrCodeNoNextStep           ErrorCode = "NO_NEXT_STEP"
	ErrCodeStepIncomplete       ErrorCode = "STEP_INCOMPLETE"
	ErrCodeScreenNotFound       ErrorCode = "SCREEN_NOT_FOUND"
	ErrCodeNotSuspendedOnScreen ErrorCode = "NOT_SUSPENDED_ON_SCREEN"
	ErrCodeUnknownResult        ErrorCode = "UNKNOWN_RESULT"
	ErrCodeStorageFailed        ErrorCode = "STORAGE_FAILED"
	ErrCodeStateConflict        ErrorCode = "STATE_CONFLICT"
	ErrCodeStepLimitExceeded    ErrorCode = "STEP_LIMIT_EXCEEDED"
)

// RunError describes a failed run.
type RunError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// RunResult is returned by every engine operation. Type is one of
// ResultScreen, ResultRedirect, ResultComplete or ResultError.
type RunResult struct {
	Type   ResultType
	State  *State
	Screen *Screen
	URL    string
	Result map[string]any
	Error  *RunError
}

// Failed reports whether the run ended in an error.
func (r RunResult) Failed() bool {
	return r.Type == ResultError
}
