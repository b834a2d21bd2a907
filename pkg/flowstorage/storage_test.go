package flowstorage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

const tenantID = "tenant_1"

func setup(t *testing.T) (*loginsession.InMemoryRepository, *Storage, *loginsession.LoginSession) {
	repo := loginsession.NewInMemoryRepository()
	session, err := repo.Create(context.Background(), tenantID, loginsession.LoginSession{
		ID:         "ls_1",
		AuthParams: loginsession.AuthParams{ClientID: "client_1"},
		ExpiresAt:  time.Now().Add(time.Hour).UTC(),
	})
	require.NoError(t, err)
	return repo, New(repo, tenantID), session
}

func TestStorage_SaveFlattensIntoPipelineState(t *testing.T) {
	repo, storage, session := setup(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &workflow.State{
		ID:         session.ID,
		WorkflowID: "login",
		Step:       "enter-code",
		Suspended:  &workflow.Suspension{Type: workflow.SuspendScreen, ScreenID: "enter-code"},
		Context:    map[string]any{"username": "a@b.com"},
		CreatedAt:  created,
		ExpiresAt:  created.Add(30 * time.Minute),
	}
	require.NoError(t, storage.Save(ctx, state))
	assert.Equal(t, int64(2), state.Revision)

	stored, err := repo.Get(ctx, tenantID, session.ID)
	require.NoError(t, err)
	ps := stored.PipelineState
	assert.Equal(t, "a@b.com", ps.Context["username"])
	require.Contains(t, ps.Context, MetadataKey)
	meta := ps.Context[MetadataKey].(map[string]any)
	assert.Equal(t, "login", meta["workflowId"])
	assert.Equal(t, "enter-code", meta["step"])
	assert.Equal(t, map[string]any{"type": "screen", "screenId": "enter-code"}, meta["suspended"])

	require.NotNil(t, ps.Current)
	assert.Equal(t, loginsession.PipelineStep{Type: "form", ID: "enter-code", Step: "enter-code"}, *ps.Current)
	assert.Equal(t, 1, ps.Position)

	loaded, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "login", loaded.WorkflowID)
	assert.Equal(t, "enter-code", loaded.Step)
	assert.Equal(t, state.Suspended, loaded.Suspended)
	assert.Equal(t, map[string]any{"username": "a@b.com"}, loaded.Context)
	assert.Equal(t, created, loaded.CreatedAt)
	assert.Equal(t, created.Add(30*time.Minute), loaded.ExpiresAt)
	assert.Equal(t, int64(2), loaded.Revision)
}

func TestStorage_RedirectSuspensionIsAnAction(t *testing.T) {
	repo, storage, session := setup(t)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, &workflow.State{
		ID:         session.ID,
		WorkflowID: "login",
		Step:       "hook-return",
		Suspended:  &workflow.Suspension{Type: workflow.SuspendRedirect, URL: "https://auth.example.com/u/terms"},
		Context:    map[string]any{},
	}))

	stored, err := repo.Get(ctx, tenantID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, &loginsession.PipelineStep{Type: "action", ID: "hook-return", Step: "hook-return"}, stored.PipelineState.Current)
}

func TestStorage_LoadMissing(t *testing.T) {
	_, storage, _ := setup(t)

	state, err := storage.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStorage_DeleteResetsPipelineButKeepsSession(t *testing.T) {
	repo, storage, session := setup(t)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, &workflow.State{
		ID:         session.ID,
		WorkflowID: "login",
		Step:       "identifier",
		Suspended:  &workflow.Suspension{Type: workflow.SuspendScreen, ScreenID: "identifier"},
		Context:    map[string]any{"a": "b"},
	}))
	require.NoError(t, storage.Delete(ctx, session.ID))

	stored, err := repo.Get(ctx, tenantID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 0, stored.PipelineState.Position)
	assert.Nil(t, stored.PipelineState.Current)
	assert.Empty(t, stored.PipelineState.Context)
}

func TestStorage_TerminalSessionHasNoWorkflow(t *testing.T) {
	repo, storage, session := setup(t)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, &workflow.State{
		ID:         session.ID,
		WorkflowID: "login",
		Step:       "identifier",
		Suspended:  &workflow.Suspension{Type: workflow.SuspendScreen, ScreenID: "identifier"},
	}))
	failed := loginsession.StateFailed
	require.NoError(t, repo.Update(ctx, tenantID, session.ID, loginsession.Patch{State: &failed}))

	state, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStorage_StaleRevisionConflicts(t *testing.T) {
	_, storage, session := setup(t)
	ctx := context.Background()

	first := &workflow.State{ID: session.ID, WorkflowID: "login", Step: "identifier", Context: map[string]any{}}
	require.NoError(t, storage.Save(ctx, first))

	// two requests load the same revision
	a, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)
	b, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)

	a.Step = "enter-code"
	require.NoError(t, storage.Save(ctx, a))

	b.Step = "identifier"
	err = storage.Save(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrStateConflict)

	current, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "enter-code", current.Step)
}

func TestDecode(t *testing.T) {
	t.Run("LegacyWithCurrent", func(t *testing.T) {
		session := &loginsession.LoginSession{
			ID: "ls_legacy",
			PipelineState: loginsession.PipelineState{
				Position: 2,
				Current:  &loginsession.PipelineStep{Type: "form", ID: "enter-code"},
				Context:  map[string]any{"username": "a@b.com"},
			},
			Version: 7,
		}

		decoded := Decode(session)
		assert.Equal(t, SourceLegacy, decoded.Source)
		assert.Equal(t, "login", decoded.State.WorkflowID)
		assert.Equal(t, "enter-code", decoded.State.Step)
		require.NotNil(t, decoded.State.Suspended)
		assert.Equal(t, workflow.SuspendScreen, decoded.State.Suspended.Type)
		assert.Equal(t, "enter-code", decoded.State.Suspended.ScreenID)
		assert.Equal(t, "a@b.com", decoded.State.Context["username"])
		assert.Equal(t, int64(7), decoded.State.Revision)
	})

	t.Run("LegacyWithoutCurrent", func(t *testing.T) {
		state := DecodeLegacy(&loginsession.LoginSession{ID: "ls_new", PipelineState: loginsession.EmptyPipelineState()})
		assert.Equal(t, "identifier", state.Step)
		assert.Nil(t, state.Suspended)
		assert.Empty(t, state.Context)
	})

	t.Run("ModernRejectsMissingMetadata", func(t *testing.T) {
		_, ok := DecodeModern(&loginsession.LoginSession{PipelineState: loginsession.EmptyPipelineState()})
		assert.False(t, ok)

		_, ok = DecodeModern(&loginsession.LoginSession{PipelineState: loginsession.PipelineState{
			Context: map[string]any{MetadataKey: map[string]any{"step": "x"}},
		}})
		assert.False(t, ok, "metadata without a workflow id is not usable")
	})

	t.Run("ModernFallsBackToSessionTimes", func(t *testing.T) {
		expires := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		decoded := Decode(&loginsession.LoginSession{
			ID:        "ls_m",
			ExpiresAt: expires,
			PipelineState: loginsession.PipelineState{
				Context: map[string]any{MetadataKey: map[string]any{"workflowId": "signup", "step": "email", "suspended": nil}},
			},
		})
		assert.Equal(t, SourceModern, decoded.Source)
		assert.Equal(t, "signup", decoded.State.WorkflowID)
		assert.Equal(t, expires, decoded.State.ExpiresAt)
		assert.Nil(t, decoded.State.Suspended)
		assert.NotContains(t, decoded.State.Context, MetadataKey)
	})
}

func TestStorage_DrivesEngine(t *testing.T) {
	repo, storage, session := setup(t)
	ctx := context.Background()

	screen := func(title string) func(context.Context, *workflow.StepContext) (*workflow.Screen, error) {
		return func(context.Context, *workflow.StepContext) (*workflow.Screen, error) {
			return &workflow.Screen{Method: "POST", Title: title}, nil
		}
	}
	engine := workflow.NewEngine(workflow.NewRegistry())
	require.NoError(t, engine.Register(workflow.Definition{
		ID:        "two-step",
		StartStep: "step1",
		Steps: map[string]workflow.StepDefinition{
			"step1": {
				Type:      workflow.StepTypeScreen,
				GetScreen: screen("Step 1"),
				Execute: func(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
					return workflow.Next("step2", map[string]any{"formData": map[string]any{"username": sc.Input["username"]}}), nil
				},
			},
			"step2": {
				Type:      workflow.StepTypeScreen,
				GetScreen: screen("Step 2"),
				Execute: func(ctx context.Context, sc *workflow.StepContext) (workflow.StepResult, error) {
					return workflow.Complete(nil), nil
				},
			},
		},
	}))
	services := workflow.Services{TenantID: tenantID, Storage: storage}

	started := engine.Start(ctx, "two-step", services, nil, workflow.WithStateID(session.ID))
	require.Equal(t, workflow.ResultScreen, started.Type, "%+v", started.Error)

	loaded, err := storage.Load(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "step1", loaded.Step)
	assert.Equal(t, "step1", loaded.Suspended.ScreenID)

	res := engine.Resume(ctx, session.ID, services, map[string]any{"username": "a@b.com"})
	require.Equal(t, workflow.ResultScreen, res.Type, "%+v", res.Error)
	assert.Equal(t, "Step 2", res.Screen.Title)

	stored, err := repo.Get(ctx, tenantID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "a@b.com"}, stored.PipelineState.Context["formData"])

	done := engine.Resume(ctx, session.ID, services, map[string]any{})
	require.Equal(t, workflow.ResultComplete, done.Type, "%+v", done.Error)

	stored, err = repo.Get(ctx, tenantID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored, "completing the workflow keeps the login session")
	assert.Empty(t, stored.PipelineState.Context)
}
