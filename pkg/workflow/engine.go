package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultExpiresIn is how long a started workflow may be resumed.
	DefaultExpiresIn = 30 * time.Minute
	// DefaultMaxSteps bounds the steps executed by one Start or Resume call.
	DefaultMaxSteps = 64
)

// Engine runs registered workflows. It keeps no per-workflow memory between
// calls: every suspension is persisted through Services.Storage before the
// call returns.
type Engine struct {
	registry         *Registry
	defaultExpiresIn time.Duration
	maxSteps         int
	now              func() time.Time
	logger           *slog.Logger
	tracer           trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultExpiresIn sets the lifetime of new workflow states. Negative
// values produce states that are already expired, which is useful in tests.
func WithDefaultExpiresIn(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultExpiresIn = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxSteps bounds the number of steps one call may execute.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// NewEngine creates an engine over registry. A nil registry gets a fresh one.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		registry:         registry,
		defaultExpiresIn: DefaultExpiresIn,
		maxSteps:         DefaultMaxSteps,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           slog.Default(),
		tracer:           otel.Tracer("github.com/markusahlstrand/authhero-sub008/pkg/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a workflow definition to the engine's registry.
func (e *Engine) Register(def Definition) error {
	return e.registry.Register(def)
}

// Registry returns the registry backing the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

type startOptions struct {
	stateID string
}

// StartOption configures a single Start call.
type StartOption func(*startOptions)

// WithStateID uses id instead of a generated one. Login flows pass the login
// session id so the workflow and its session share an identity.
func WithStateID(id string) StartOption {
	return func(o *startOptions) {
		o.stateID = id
	}
}

// Start creates a new instance of workflowID and runs it until it suspends,
// completes or fails.
func (e *Engine) Start(ctx context.Context, workflowID string, services Services, initial map[string]any, opts ...StartOption) (result RunResult) {
	ctx, span := e.tracer.Start(ctx, "workflow.Start", trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer func() { endSpan(span, result) }()

	def, ok := e.registry.Get(workflowID)
	if !ok {
		return errorResult(ErrCodeWorkflowNotFound, fmt.Sprintf("workflow %q is not registered", workflowID), nil)
	}
	if services.Storage == nil {
		return errorResult(ErrCodeStorageFailed, "no workflow storage configured", nil)
	}

	o := startOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stateID == "" {
		o.stateID = uuid.New().String()
	}

	now := e.now()
	state := &State{
		ID:         o.stateID,
		WorkflowID: def.ID,
		Step:       def.StartStep,
		Context:    cloneMap(def.DefaultContext),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.defaultExpiresIn),
	}
	mergeContext(state.Context, initial)
	span.SetAttributes(attribute.String("workflow.state_id", state.ID))

	if def.Hooks.OnStart != nil {
		if err := protect(func() error { return def.Hooks.OnStart(ctx, state, services) }); err != nil {
			e.logger.Error("Workflow start hook failed", "workflow_id", def.ID, "state_id", state.ID, "err", err)
			return errorResult(ErrCodeStartHookFailed, err.Error(), nil)
		}
	}

	r := &run{engine: e, def: def, state: state, services: services}
	return r.runStep(ctx, def.StartStep, nil)
}

// Resume continues a suspended workflow with input. Expired states are
// deleted and reported as WORKFLOW_EXPIRED.
func (e *Engine) Resume(ctx context.Context, stateID string, services Services, input map[string]any) (result RunResult) {
	ctx, span := e.tracer.Start(ctx, "workflow.Resume", trace.WithAttributes(attribute.String("workflow.state_id", stateID)))
	defer func() { endSpan(span, result) }()

	state, def, failed := e.load(ctx, stateID, services)
	if failed != nil {
		return *failed
	}
	span.SetAttributes(attribute.String("workflow.id", def.ID))

	if e.isExpired(state) {
		if err := services.Storage.Delete(ctx, state.ID); err != nil {
			e.logger.Error("Failed to delete expired workflow", "state_id", state.ID, "err", err)
		}
		return errorResult(ErrCodeWorkflowExpired, fmt.Sprintf("workflow %s expired at %s", state.ID, state.ExpiresAt.Format(time.RFC3339)), nil)
	}

	state.Suspended = nil
	r := &run{engine: e, def: def, state: state, services: services}

	step, ok := def.Steps[state.Step]
	if !ok {
		return r.fail(ctx, ErrCodeStepNotFound, fmt.Sprintf("step %q not found in workflow %q", state.Step, def.ID))
	}
	if step.Execute != nil {
		return r.execute(ctx, step, input)
	}
	if step.Next != "" {
		return r.runStep(ctx, step.Next, nil)
	}
	return r.fail(ctx, ErrCodeNoNextStep, fmt.Sprintf("step %q has nothing to resume", step.ID))
}

// CurrentScreen re-renders the screen a workflow is suspended on without
// changing its state.
func (e *Engine) CurrentScreen(ctx context.Context, stateID string, services Services) RunResult {
	state, def, failed := e.load(ctx, stateID, services)
	if failed != nil {
		return *failed
	}
	if e.isExpired(state) {
		return errorResult(ErrCodeWorkflowExpired, fmt.Sprintf("workflow %s has expired", state.ID), state)
	}
	if state.Suspended == nil || state.Suspended.Type != SuspendScreen {
		return errorResult(ErrCodeNotSuspendedOnScreen, fmt.Sprintf("workflow %s is not waiting on a screen", state.ID), state)
	}

	screenID := state.Suspended.ScreenID
	if screenID == "" {
		screenID = state.Step
	}
	step, ok := def.Steps[screenID]
	if !ok {
		return errorResult(ErrCodeStepNotFound, fmt.Sprintf("step %q not found in workflow %q", screenID, def.ID), state)
	}
	if step.GetScreen == nil {
		return errorResult(ErrCodeScreenNotFound, fmt.Sprintf("step %q has no screen", step.ID), state)
	}

	r := &run{engine: e, def: def, state: state, services: services}
	screen, err := r.render(ctx, step)
	if err != nil {
		return errorResult(ErrCodeStepExecutionFailed, err.Error(), state)
	}
	return RunResult{Type: ResultScreen, Screen: screen, State: state}
}

func (e *Engine) load(ctx context.Context, stateID string, services Services) (*State, *Definition, *RunResult) {
	if services.Storage == nil {
		res := errorResult(ErrCodeStorageFailed, "no workflow storage configured", nil)
		return nil, nil, &res
	}
	state, err := services.Storage.Load(ctx, stateID)
	if err != nil {
		e.logger.Error("Failed to load workflow state", "state_id", stateID, "err", err)
		res := errorResult(ErrCodeStorageFailed, err.Error(), nil)
		return nil, nil, &res
	}
	if state == nil {
		res := errorResult(ErrCodeStateNotFound, fmt.Sprintf("workflow state %s not found", stateID), nil)
		return nil, nil, &res
	}
	if state.Context == nil {
		state.Context = map[string]any{}
	}
	def, ok := e.registry.Get(state.WorkflowID)
	if !ok {
		res := errorResult(ErrCodeWorkflowNotFound, fmt.Sprintf("workflow %q is not registered", state.WorkflowID), state)
		return nil, nil, &res
	}
	return state, def, nil
}

func (e *Engine) isExpired(state *State) bool {
	return !state.ExpiresAt.IsZero() && e.now().After(state.ExpiresAt)
}

// run carries one Start or Resume call.
type run struct {
	engine   *Engine
	def      *Definition
	state    *State
	services Services
	steps    int
}

func (r *run) runStep(ctx context.Context, stepID string, input map[string]any) RunResult {
	r.steps++
	if r.steps > r.engine.maxSteps {
		return r.fail(ctx, ErrCodeStepLimitExceeded, fmt.Sprintf("more than %d steps in one run", r.engine.maxSteps))
	}

	step, ok := r.def.Steps[stepID]
	if !ok {
		return r.fail(ctx, ErrCodeStepNotFound, fmt.Sprintf("step %q not found in workflow %q", stepID, r.def.ID))
	}
	r.state.Step = step.ID

	if step.Type == StepTypeScreen && input == nil {
		return r.suspendOnScreen(ctx, step)
	}
	if step.Execute == nil {
		if step.Next != "" {
			return r.runStep(ctx, step.Next, nil)
		}
		return r.fail(ctx, ErrCodeStepIncomplete, fmt.Sprintf("step %q has neither Execute nor Next", step.ID))
	}
	return r.execute(ctx, step, input)
}

func (r *run) execute(ctx context.Context, step StepDefinition, input map[string]any) RunResult {
	var result StepResult
	err := protect(func() error {
		var err error
		result, err = step.Execute(ctx, r.stepContext(step, input))
		return err
	})
	if err != nil {
		r.engine.logger.Warn("Workflow step failed", "workflow_id", r.def.ID, "step", step.ID, "err", err)
		return r.fail(ctx, ErrCodeStepExecutionFailed, err.Error())
	}
	if result.Type == ResultNext && result.Step == "" {
		result.Step = step.Next
	}
	return r.handle(ctx, result)
}

func (r *run) handle(ctx context.Context, result StepResult) RunResult {
	mergeContext(r.state.Context, result.Context)

	switch result.Type {
	case ResultNext:
		if result.Step == "" {
			return r.fail(ctx, ErrCodeNoNextStep, fmt.Sprintf("step %q returned next without a target", r.state.Step))
		}
		return r.runStep(ctx, result.Step, nil)

	case ResultScreen:
		target, ok := r.def.Steps[result.ScreenID]
		if !ok || target.GetScreen == nil {
			return r.fail(ctx, ErrCodeScreenNotFound, fmt.Sprintf("no screen %q in workflow %q", result.ScreenID, r.def.ID))
		}
		r.state.Step = target.ID
		return r.suspendOnScreen(ctx, target)

	case ResultRedirect:
		if result.Step != "" {
			if _, ok := r.def.Steps[result.Step]; !ok {
				return r.fail(ctx, ErrCodeStepNotFound, fmt.Sprintf("step %q not found in workflow %q", result.Step, r.def.ID))
			}
			r.state.Step = result.Step
		}
		r.state.Suspended = &Suspension{Type: SuspendRedirect, URL: result.URL}
		if failed := r.persist(ctx); failed != nil {
			return *failed
		}
		return RunResult{Type: ResultRedirect, URL: result.URL, State: r.state}

	case ResultComplete:
		if hook := r.def.Hooks.OnComplete; hook != nil {
			if err := protect(func() error { return hook(ctx, r.state, result.Result, r.services) }); err != nil {
				r.engine.logger.Warn("Workflow complete hook failed", "workflow_id", r.def.ID, "state_id", r.state.ID, "err", err)
			}
		}
		if err := r.services.Storage.Delete(ctx, r.state.ID); err != nil {
			r.engine.logger.Error("Failed to delete completed workflow", "state_id", r.state.ID, "err", err)
		}
		r.engine.logger.Debug("Workflow completed", "workflow_id", r.def.ID, "state_id", r.state.ID)
		return RunResult{Type: ResultComplete, Result: result.Result, State: r.state}

	case ResultError:
		return r.fail(ctx, result.Code, result.Message)

	default:
		return r.fail(ctx, ErrCodeUnknownResult, fmt.Sprintf("step %q returned unknown result type %q", r.state.Step, result.Type))
	}
}

func (r *run) suspendOnScreen(ctx context.Context, step StepDefinition) RunResult {
	if step.GetScreen == nil {
		return r.fail(ctx, ErrCodeScreenNotFound, fmt.Sprintf("step %q has no screen", step.ID))
	}
	screen, err := r.render(ctx, step)
	if err != nil {
		return r.fail(ctx, ErrCodeStepExecutionFailed, err.Error())
	}

	r.state.Suspended = &Suspension{Type: SuspendScreen, ScreenID: step.ID}
	if failed := r.persist(ctx); failed != nil {
		return *failed
	}
	r.engine.logger.Debug("Workflow suspended on screen", "workflow_id", r.def.ID, "state_id", r.state.ID, "step", step.ID)
	return RunResult{Type: ResultScreen, Screen: screen, State: r.state}
}

func (r *run) render(ctx context.Context, step StepDefinition) (*Screen, error) {
	var screen *Screen
	err := protect(func() error {
		var err error
		screen, err = step.GetScreen(ctx, r.stepContext(step, nil))
		return err
	})
	if err != nil {
		return nil, err
	}
	if screen == nil {
		return nil, fmt.Errorf("step %q rendered no screen", step.ID)
	}
	return screen, nil
}

func (r *run) persist(ctx context.Context) *RunResult {
	err := r.services.Storage.Save(ctx, r.state)
	if err == nil {
		return nil
	}
	code := ErrCodeStorageFailed
	if errors.Is(err, ErrStateConflict) {
		code = ErrCodeStateConflict
	}
	r.engine.logger.Error("Failed to persist workflow state", "state_id", r.state.ID, "err", err)
	res := errorResult(code, err.Error(), r.state)
	return &res
}

func (r *run) stepContext(step StepDefinition, input map[string]any) *StepContext {
	return &StepContext{
		StateID:    r.state.ID,
		WorkflowID: r.def.ID,
		Step:       step.ID,
		Context:    cloneMap(r.state.Context),
		Input:      input,
		Services:   r.services,
	}
}

func (r *run) fail(ctx context.Context, code ErrorCode, message string) RunResult {
	res := errorResult(code, message, r.state)
	if hook := r.def.Hooks.OnError; hook != nil {
		if err := protect(func() error { hook(ctx, r.state, res.Error, r.services); return nil }); err != nil {
			r.engine.logger.Warn("Workflow error hook failed", "workflow_id", r.def.ID, "err", err)
		}
	}
	return res
}

func errorResult(code ErrorCode, message string, state *State) RunResult {
	return RunResult{
		Type:  ResultError,
		State: state,
		Error: &RunError{Code: code, Message: message},
	}
}

// protect converts a panic in fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn()
}

func endSpan(span trace.Span, result RunResult) {
	span.SetAttributes(attribute.String("workflow.result", string(result.Type)))
	if result.Error != nil {
		span.SetStatus(codes.Error, string(result.Error.Code))
	}
	span.End()
}
