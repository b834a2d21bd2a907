package flowstorage

import (
	"encoding/json"
	"fmt"

	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

// Source says which decoder produced a state.
type Source string

const (
	SourceModern Source = "modern"
	SourceLegacy Source = "legacy"
)

// Decoded is the result of Decode.
type Decoded struct {
	Source Source
	State  *workflow.State
}

// metadata is the value stored under MetadataKey.
type metadata struct {
	WorkflowID string               `json:"workflowId"`
	Step       string               `json:"step"`
	Suspended  *workflow.Suspension `json:"suspended"`
	CreatedAt  string               `json:"createdAt,omitempty"`
	ExpiresAt  string               `json:"expiresAt,omitempty"`
}

// Decode reconstructs the workflow state stored on session, using the
// legacy inference when no workflow metadata is present.
func Decode(session *loginsession.LoginSession) Decoded {
	if state, ok := DecodeModern(session); ok {
		return Decoded{Source: SourceModern, State: state}
	}
	return Decoded{Source: SourceLegacy, State: DecodeLegacy(session)}
}

// DecodeModern reads a state written by Encode. It reports false when the
// session carries no usable workflow metadata.
func DecodeModern(session *loginsession.LoginSession) (*workflow.State, bool) {
	raw, ok := session.PipelineState.Context[MetadataKey]
	if !ok || raw == nil {
		return nil, false
	}
	meta, err := decodeMetadata(raw)
	if err != nil || meta.WorkflowID == "" {
		return nil, false
	}

	state := &workflow.State{
		ID:         session.ID,
		WorkflowID: meta.WorkflowID,
		Step:       meta.Step,
		Suspended:  meta.Suspended,
		Context:    userContext(session.PipelineState.Context),
		CreatedAt:  parseTime(meta.CreatedAt),
		ExpiresAt:  parseTime(meta.ExpiresAt),
		Revision:   session.Version,
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = session.CreatedAt
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = session.ExpiresAt
	}
	return state, true
}

// DecodeLegacy infers a state for sessions that were never touched by the
// workflow engine. The result is an approximation: the workflow is assumed
// to be the login flow and the step is taken from pipeline_state.current.
func DecodeLegacy(session *loginsession.LoginSession) *workflow.State {
	state := &workflow.State{
		ID:         session.ID,
		WorkflowID: LegacyWorkflowID,
		Step:       LegacyStartStep,
		Context:    userContext(session.PipelineState.Context),
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		Revision:   session.Version,
	}

	current := session.PipelineState.Current
	if current != nil {
		if current.ID != "" {
			state.Step = current.ID
		}
		state.Suspended = &workflow.Suspension{
			Type:     workflow.SuspendScreen,
			ScreenID: state.Step,
		}
	}
	return state
}

// Encode flattens state into a pipeline document. Position is left for the
// caller to set.
func Encode(state *workflow.State) (loginsession.PipelineState, error) {
	meta := metadata{
		WorkflowID: state.WorkflowID,
		Step:       state.Step,
		Suspended:  state.Suspended,
		CreatedAt:  formatTime(state.CreatedAt),
		ExpiresAt:  formatTime(state.ExpiresAt),
	}
	metaMap, err := toMap(meta)
	if err != nil {
		return loginsession.PipelineState{}, err
	}

	ctx := make(map[string]any, len(state.Context)+1)
	for k, v := range state.Context {
		if k == MetadataKey {
			continue
		}
		ctx[k] = v
	}
	ctx[MetadataKey] = metaMap

	return loginsession.PipelineState{
		Current: currentFor(state),
		Context: ctx,
	}, nil
}

// currentFor derives the pre-workflow description of what the session is
// waiting on.
func currentFor(state *workflow.State) *loginsession.PipelineStep {
	if state.Suspended == nil {
		return nil
	}
	switch state.Suspended.Type {
	case workflow.SuspendScreen:
		id := state.Suspended.ScreenID
		if id == "" {
			id = state.Step
		}
		return &loginsession.PipelineStep{Type: loginsession.PipelineStepForm, ID: id, Step: state.Step}
	default:
		return &loginsession.PipelineStep{Type: loginsession.PipelineStepAction, ID: state.Step, Step: state.Step}
	}
}

func userContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == MetadataKey {
			continue
		}
		out[k] = v
	}
	return out
}

func decodeMetadata(raw any) (metadata, error) {
	var meta metadata
	data, err := json.Marshal(raw)
	if err != nil {
		return meta, fmt.Errorf("failed to encode workflow metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode workflow metadata: %w", err)
	}
	return meta, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode workflow metadata: %w", err)
	}
	return out, nil
}
