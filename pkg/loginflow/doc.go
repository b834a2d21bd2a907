// Package loginflow is the universal login workflow.
//
// The "login" workflow asks for an identifier, sends a one-time code, and
// verifies it. The login session then sits in the AUTHENTICATED hub state
// and the post-authentication step decides what happens next: email
// verification, page hooks, or completion.
//
//	identifier -> send-code -> enter-code -> post-authentication -> (complete)
//	                                           |  ^
//	                             verify-email -+  +- hook-return
//	                                              +- continuation-return
//
// A page hook marked Continuation moves the session to
// AWAITING_CONTINUATION rather than AWAITING_HOOK; the page then acts on
// the user within the hook's scope before the browser returns.
//
// The workflow state is stored on the login session through flowstorage,
// so the state id of a run is the login session id.
//
// # Usage
//
//	engine := workflow.NewEngine(workflow.NewRegistry())
//	svc, err := loginflow.NewService(engine, deps, loginflow.DefaultOptions())
//
//	result, err := svc.Start(ctx, tenantID, loginflow.StartParams{AuthParams: auth, IP: ip})
//	// render result.Screen, post the form back with Submit
//	result = svc.Submit(ctx, tenantID, result.State.ID, map[string]any{"username": "a@b.com"})
//
// Steps read their collaborators from workflow.Services.Data, which must
// be a *Deps.
package loginflow
