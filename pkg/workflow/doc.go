// Package workflow is a step based engine that suspends on screens and
// redirects and resumes from persisted state.
//
// A workflow is a Definition of named steps. Screen steps render a Screen and
// suspend until input arrives; action and condition steps run Execute and
// return a StepResult saying where to go next:
//
//	engine := workflow.NewEngine(workflow.NewRegistry())
//	err := engine.Register(workflow.Definition{
//		ID:        "signup",
//		StartStep: "email",
//		Steps: map[string]workflow.StepDefinition{
//			"email": {
//				Type:      workflow.StepTypeScreen,
//				GetScreen: emailScreen,
//				Execute: func(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
//					return workflow.Next("done", map[string]any{"email": sc.Input["email"]}), nil
//				},
//			},
//			"done": {Type: workflow.StepTypeAction, Execute: finish},
//		},
//	})
//
//	res := engine.Start(ctx, "signup", services, nil)
//	// render res.Screen, then on submit:
//	res = engine.Resume(ctx, res.State.ID, services, form)
//
// Every operation returns a RunResult; failures are RunResult values with
// an ErrorCode, never Go errors or panics. A suspension is always persisted
// through Services.Storage before the call returns, so a later Resume may
// run in a different process.
package workflow
