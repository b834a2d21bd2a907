// Package flowstorage persists workflow states inside login sessions.
//
// A workflow state is not stored on its own. It is flattened into the
// session's pipeline_state document: the workflow context at the top level
// of pipeline_state.context, engine metadata under the reserved "_workflow"
// key, and a pipeline_state.current summary for code that predates the
// workflow engine.
package flowstorage

import (
	"context"
	"fmt"
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

// MetadataKey is the reserved key in pipeline_state.context.
const MetadataKey = "_workflow"

const (
	// LegacyWorkflowID is assumed for sessions without workflow metadata.
	LegacyWorkflowID = "login"
	// LegacyStartStep is assumed when a legacy session has no current step.
	LegacyStartStep = "identifier"
)

// Storage implements workflow.Storage for one tenant. State ids are login
// session ids.
type Storage struct {
	sessions loginsession.Repository
	tenantID string
}

var _ workflow.Storage = (*Storage)(nil)

// New creates a bridge over sessions for tenantID.
func New(sessions loginsession.Repository, tenantID string) *Storage {
	return &Storage{sessions: sessions, tenantID: tenantID}
}

// Load reconstructs the workflow state of login session id. Sessions in a
// terminal state have no workflow.
func (s *Storage) Load(ctx context.Context, id string) (*workflow.State, error) {
	session, err := s.sessions.Get(ctx, s.tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load login session %s: %w", id, err)
	}
	if session == nil || session.CurrentState().IsTerminal() {
		return nil, nil
	}
	return Decode(session).State, nil
}

// Save flattens state into the session's pipeline_state. The write is
// conditional on the session version the state was loaded with; a state
// that was never saved is written against the version read here.
func (s *Storage) Save(ctx context.Context, state *workflow.State) error {
	ps, err := Encode(state)
	if err != nil {
		return err
	}

	current, err := s.sessions.Get(ctx, s.tenantID, state.ID)
	if err != nil {
		return fmt.Errorf("failed to load login session %s: %w", state.ID, err)
	}
	if current == nil {
		return fmt.Errorf("login session %s not found", state.ID)
	}
	ps.Position = nextPosition(current, state)

	expected := state.Revision
	if expected == 0 {
		expected = current.Version
	}
	patch := loginsession.Patch{PipelineState: &ps, ExpectedVersion: &expected}
	if err := s.sessions.Update(ctx, s.tenantID, state.ID, patch); err != nil {
		if loginsession.IsVersionConflict(err) {
			return fmt.Errorf("%w: %v", workflow.ErrStateConflict, err)
		}
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	state.Revision = expected + 1
	return nil
}

// Delete resets the pipeline state. The login session itself is kept.
func (s *Storage) Delete(ctx context.Context, id string) error {
	empty := loginsession.EmptyPipelineState()
	if err := s.sessions.Update(ctx, s.tenantID, id, loginsession.Patch{PipelineState: &empty}); err != nil {
		return fmt.Errorf("failed to reset pipeline state: %w", err)
	}
	return nil
}

// nextPosition advances the legacy position counter when the step changed.
func nextPosition(current *loginsession.LoginSession, state *workflow.State) int {
	meta, ok := current.PipelineState.Context[MetadataKey].(map[string]any)
	if ok && meta["step"] == state.Step {
		return current.PipelineState.Position
	}
	return current.PipelineState.Position + 1
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
