// Package loginsession models the lifecycle of a login attempt.
//
// The state machine is a static transition table with AUTHENTICATED as the
// hub: every blocking sub-flow (email verification, hooks, continuations)
// returns there, and only from there can a session complete.
//
//	result := loginsession.TransitionFromEntity(session, loginsession.Event{
//		Type:   loginsession.EventStartHook,
//		HookID: "terms",
//	})
//	if !result.Accepted {
//		// the event is not valid in the session's current state
//	}
//	err := repo.Update(ctx, tenantID, session.ID, loginsession.TransitionPatch(result))
//
// Transition never returns an error. Rejected events leave the state
// unchanged and callers are expected to check.
//
// Repositories are tenant scoped and return (nil, nil) for missing sessions.
// Writes that replace the pipeline state increment Version; passing
// Patch.ExpectedVersion turns such a write into a compare-and-swap. Backends:
// in-memory, JSON file, PostgreSQL (pgx) and Redis.
package loginsession
