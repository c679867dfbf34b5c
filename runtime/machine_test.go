package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const machineWorkflowTmpl = `
info:
  name: e2e_flow
  version: 0.1.0

properties:
  region: eu

providers:
  - id: checker
    endpoint: %s
    method: POST

ui_steps:
  - id: upload
    title: Upload
    components:
      - id: data_file
        kind: file_input
      - id: go
        kind: button
        target_step: check

  - id: review
    title: Review
    requires:
      - data_file
    components:
      - id: results
        kind: table

pipeline:
  - id: ingest
    component: file_uploader
    params:
      component_id: data_file
      target: files.data

  - id: check
    component: call_provider
    %s
    params:
      provider: checker
      inputs:
        content: "{{files.data.content_b64}}"
        region: "{{properties.region}}"
      output_path: check.response
      view_path: results

  - id: summarize
    component: set_state
    condition: "defined('check.response')"
    params:
      updates:
        summary.total: "{{check.response.total}}"
`

func newTestEngine(t *testing.T, providerURL, checkPolicy string) *Engine {
	t.Helper()
	doc := fmt.Sprintf(machineWorkflowTmpl, providerURL, checkPolicy)
	store, err := ParseWorkflow([]byte(doc))
	require.NoError(t, err)

	def := store.Definition()
	gateway := NewProviderGateway(testLogger(), def, 5*time.Second)
	executor := NewStepExecutor(testLogger(), NewEvaluator(), gateway)
	return NewEngine(testLogger(), def, NewMemorySessionStore(), NewMemoryUploadStore(), executor)
}

func okProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total": 2, "items": ["a", "b"]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateSession(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")

	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, "upload", snap.ActiveStepID)
	assert.Empty(t, snap.CompletedUISteps)
	assert.Equal(t, "eu", snap.Context["properties"].(map[string]any)["region"])

	got, err := engine.GetSession(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, got.SessionID)
}

func TestGetSessionNotFound(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")

	_, err := engine.GetSession(context.Background(), "nope")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestAdvanceBlocksOnMissingUpload(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	snap, err = engine.Advance(context.Background(), snap.SessionID, "")
	require.NoError(t, err)

	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Equal(t, []string{"data_file"}, snap.WaitingFor)
	assert.Equal(t, StepPending, snap.ComponentState["data_file"].Status)
	assert.Empty(t, snap.StepStatus, "the blocked step is not consumed")

	// Advancing again without input is a no-op.
	again, err := engine.Advance(context.Background(), snap.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, again.Status)
	assert.Equal(t, []string{"data_file"}, again.WaitingFor)
}

func TestUploadThenAdvanceCompletes(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)
	id := snap.SessionID

	_, err = engine.Advance(context.Background(), id, "")
	require.NoError(t, err)

	snap, err = engine.RecordUpload(context.Background(), id, "data_file", FileUpload{
		Name:        "report.csv",
		ContentType: "text/csv",
		Content:     []byte("a,b\n1,2\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, snap.ComponentState["data_file"].Status)
	assert.Empty(t, snap.WaitingFor)

	// Snapshots never expose file bytes.
	input := snap.Context["inputs"].(map[string]any)["data_file"].(map[string]any)
	assert.NotContains(t, input, "content_b64")
	assert.Equal(t, "report.csv", input["name"])
	assert.NotEmpty(t, input["storage_ref"])

	snap, err = engine.Advance(context.Background(), id, "check")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, StepCompleted, snap.StepStatus["ingest"])
	assert.Equal(t, StepCompleted, snap.StepStatus["check"])
	assert.Equal(t, StepCompleted, snap.StepStatus["summarize"])
	assert.Equal(t, []string{"upload", "review"}, snap.CompletedUISteps)
	assert.Equal(t, "review", snap.ActiveStepID)

	response := snap.Context["check"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, 2.0, response["total"])
	assert.Equal(t, 2.0, snap.Context["summary"].(map[string]any)["total"])
	assert.Equal(t, []any{"a", "b"}, snap.View["results"].(map[string]any)["items"])

	// Terminal sessions are returned unchanged.
	again, err := engine.Advance(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, snap.UpdatedAt, again.UpdatedAt)
}

func TestAdvanceAbortsOnProviderFailure(t *testing.T) {
	engine := newTestEngine(t, failingProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)
	id := snap.SessionID

	_, err = engine.RecordUpload(context.Background(), id, "data_file", FileUpload{
		Name: "report.csv", Content: []byte("x"),
	})
	require.NoError(t, err)

	snap, err = engine.Advance(context.Background(), id, "")
	require.NoError(t, err, "a failed pipeline is a session outcome, not a call error")

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, StepCompleted, snap.StepStatus["ingest"])
	assert.Equal(t, StepFailed, snap.StepStatus["check"])
	assert.NotContains(t, snap.StepStatus, "summarize", "abort stops the pipeline")
	assert.Contains(t, snap.LastError, "check")
}

func TestAdvanceSkipPolicyContinues(t *testing.T) {
	engine := newTestEngine(t, failingProvider(t).URL, "on_error: skip")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)
	id := snap.SessionID

	_, err = engine.RecordUpload(context.Background(), id, "data_file", FileUpload{
		Name: "report.csv", Content: []byte("x"),
	})
	require.NoError(t, err)

	snap, err = engine.Advance(context.Background(), id, "")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, StepFailed, snap.StepStatus["check"])
	// The dependent step's condition sees no provider output and skips.
	assert.Equal(t, StepSkipped, snap.StepStatus["summarize"])
	assert.Empty(t, snap.LastError)
}

func TestAdvanceUnknownTargetStep(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = engine.Advance(context.Background(), snap.SessionID, "nowhere")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, CodeStepNotFound, AsEngineError(err).Code)
}

func TestAdvanceConflict(t *testing.T) {
	store := NewMemorySessionStore()
	engine := newTestEngine(t, okProvider(t).URL, "")
	engine.sessions = store

	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	release, err := store.Acquire(context.Background(), snap.SessionID)
	require.NoError(t, err)
	defer release()

	_, err = engine.Advance(context.Background(), snap.SessionID, "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))
	assert.Equal(t, CodeSessionLocked, AsEngineError(err).Code)
}

func TestRecordComponentValue(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	snap, err = engine.RecordComponentValue(context.Background(), snap.SessionID, "go", true)
	require.NoError(t, err)

	assert.Equal(t, StepCompleted, snap.ComponentState["go"].Status)
	assert.Equal(t, true, snap.Context["inputs"].(map[string]any)["go"])

	// Last write wins.
	snap, err = engine.RecordComponentValue(context.Background(), snap.SessionID, "go", false)
	require.NoError(t, err)
	assert.Equal(t, false, snap.Context["inputs"].(map[string]any)["go"])
}

func TestRecordComponentValueUnknownComponent(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = engine.RecordComponentValue(context.Background(), snap.SessionID, "ghost", 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, CodeComponentUnknown, AsEngineError(err).Code)
}

func TestRecordUploadRejectsNonFileInput(t *testing.T) {
	engine := newTestEngine(t, okProvider(t).URL, "")
	snap, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = engine.RecordUpload(context.Background(), snap.SessionID, "go", FileUpload{Name: "x"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}
