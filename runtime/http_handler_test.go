package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, providerURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHTTPHandler(testLogger(), newTestEngine(t, providerURL, ""), router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestAPIGetWorkflow(t *testing.T) {
	router := newTestAPI(t, okProvider(t).URL)

	w, body := doJSON(t, router, http.MethodGet, "/runtime/workflow", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e2e_flow", body["info"].(map[string]any)["name"])
	assert.Len(t, body["uiSteps"], 2)
	// Secrets never leave the process.
	assert.NotContains(t, w.Body.String(), "credential_env")
}

func TestAPISessionLifecycle(t *testing.T) {
	router := newTestAPI(t, okProvider(t).URL)

	w, created := doJSON(t, router, http.MethodPost, "/runtime/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := created["sessionId"].(string)
	assert.Equal(t, "idle", created["status"])

	// Advance before any upload blocks the session.
	w, body := doJSON(t, router, http.MethodPost, "/runtime/sessions/"+id+"/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "waiting", body["status"])

	// Upload the file via multipart.
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "report.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost,
		"/runtime/sessions/"+id+"/components/data_file/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "content_b64")

	w, body = doJSON(t, router, http.MethodPost, "/runtime/sessions/"+id+"/advance",
		`{"targetStepId": "check"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "review", body["activeStepId"])

	w, body = doJSON(t, router, http.MethodGet, "/runtime/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
}

func TestAPIRecordValue(t *testing.T) {
	router := newTestAPI(t, okProvider(t).URL)

	_, created := doJSON(t, router, http.MethodPost, "/runtime/sessions", "")
	id := created["sessionId"].(string)

	w, body := doJSON(t, router, http.MethodPost,
		"/runtime/sessions/"+id+"/components/go/value", `{"value": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	state := body["componentState"].(map[string]any)["go"].(map[string]any)
	assert.Equal(t, true, state["value"])
	assert.Equal(t, "completed", state["status"])
}

func TestAPIErrorMapping(t *testing.T) {
	router := newTestAPI(t, okProvider(t).URL)

	w, body := doJSON(t, router, http.MethodGet, "/runtime/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", body["error"].(map[string]any)["code"])

	_, created := doJSON(t, router, http.MethodPost, "/runtime/sessions", "")
	id := created["sessionId"].(string)

	w, body = doJSON(t, router, http.MethodPost,
		"/runtime/sessions/"+id+"/components/ghost/value", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "COMPONENT_UNKNOWN", body["error"].(map[string]any)["code"])

	w, body = doJSON(t, router, http.MethodPost, "/runtime/sessions/"+id+"/advance",
		`{"targetStepId": "nowhere"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STEP_NOT_FOUND", body["error"].(map[string]any)["code"])

	w, body = doJSON(t, router, http.MethodPost,
		"/runtime/sessions/"+id+"/components/data_file/value", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "DEFINITION_ERROR", body["error"].(map[string]any)["code"])
}

func TestAPIFailedPipelineIsStillOK(t *testing.T) {
	router := newTestAPI(t, failingProvider(t).URL)

	_, created := doJSON(t, router, http.MethodPost, "/runtime/sessions", "")
	id := created["sessionId"].(string)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, _ := form.CreateFormFile("file", "x.csv")
	fmt.Fprint(part, "x")
	form.Close()
	req := httptest.NewRequest(http.MethodPost,
		"/runtime/sessions/"+id+"/components/data_file/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	w, body := doJSON(t, router, http.MethodPost, "/runtime/sessions/"+id+"/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", body["status"])
	assert.NotEmpty(t, body["lastError"])
}
