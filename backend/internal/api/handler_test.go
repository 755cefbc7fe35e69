package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"talent-graph/backend/internal/engine"
	"talent-graph/backend/internal/state"
	apperrors "talent-graph/backend/pkg/errors"
)

type mockRunner struct {
	release chan struct{}
	err     error
}

func (m *mockRunner) RunWithID(ctx context.Context, runID string, seed state.Record) (*engine.Result, error) {
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return &engine.Result{
		RunID:  runID,
		SeedID: "seed-id",
		Communities: []state.Community{
			{ID: 0, Label: "Wiz_cluster", Members: []string{"a", "b"}, Size: 2},
		},
		Recommendations: []state.Recommendation{
			{Kind: state.KindImmediateOutreach, TargetID: "a", Justification: "Works at Wiz"},
			{Kind: state.KindWarmIntro, TargetID: "b", Via: "a", Justification: "Introduction through A"},
			{Kind: state.KindHiddenGem, TargetID: "c", Justification: "Expert in Go"},
		},
		Report: state.NetworkReport{TotalAnalyzed: 3, ByDegree: map[int]int{1: 1, 2: 1, 3: 1}},
	}, nil
}

func newTestRouter(runner Runner) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(context.Background(), runner)
	return NewRouter(h, zap.NewNop()), h
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	w, body := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	w, _ := do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartRun_InvalidSeed(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	w, _ := do(t, router, http.MethodPost, "/api/runs", map[string]any{"seed": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRun_WaitReturnsFinishedRun(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	w, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed Person", "email": "seed@example.com"},
		"wait": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusDone, body["status"])
	assert.Equal(t, "seed-id", body["seed_id"])
	assert.EqualValues(t, 3, body["recommendations"])

	id := body["id"].(string)
	w, body = do(t, router, http.MethodGet, "/api/runs/"+id+"/recommendations?kind=warm_intro,hidden_gem", nil)
	require.Equal(t, http.StatusOK, w.Code)
	recs := body["recommendations"].([]any)
	require.Len(t, recs, 2)
	assert.Equal(t, "warm_intro", recs[0].(map[string]any)["kind"])
	assert.Equal(t, "a", recs[0].(map[string]any)["via"])

	w, body = do(t, router, http.MethodGet, "/api/runs/"+id+"/communities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["communities"].([]any), 1)

	w, body = do(t, router, http.MethodGet, "/api/runs/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["report"].(map[string]any)["total_analyzed"])
}

func TestGetRecommendations_UnknownKind(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	_, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed"}, "wait": true,
	})
	w, _ := do(t, router, http.MethodGet, "/api/runs/"+body["id"].(string)+"/recommendations?kind=cold_call", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRun_AsyncLifecycle(t *testing.T) {
	runner := &mockRunner{release: make(chan struct{})}
	router, h := newTestRouter(runner)

	w, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{"seed": map[string]any{"name": "Seed"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, StatusRunning, body["status"])
	id := body["id"].(string)

	w, _ = do(t, router, http.MethodGet, "/api/runs/"+id+"/recommendations", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(runner.release)
	h.Wait()

	w, body = do(t, router, http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusDone, body["status"])

	w, body = do(t, router, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["runs"].([]any), 1)
}

func TestFailedRun(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{err: errors.New("neo4j down")})
	_, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed"}, "wait": true,
	})
	assert.Equal(t, StatusFailed, body["status"])
	assert.Equal(t, "neo4j down", body["error"])

	w, _ := do(t, router, http.MethodGet, "/api/runs/"+body["id"].(string)+"/communities", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFailedRun_ConfigErrorIsBadRequest(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{err: apperrors.NewConfigInvalid("seed", "missing")})
	_, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed"}, "wait": true,
	})
	w, _ := do(t, router, http.MethodGet, "/api/runs/"+body["id"].(string)+"/report", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailedRun_StatusFollowsErrorType(t *testing.T) {
	// message mentions the config tag but the error is not a config error
	router, _ := newTestRouter(&mockRunner{err: errors.New("upstream said [config] is broken")})
	_, body := do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed"}, "wait": true,
	})
	w, _ := do(t, router, http.MethodGet, "/api/runs/"+body["id"].(string)+"/report", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	wrapped := fmt.Errorf("engine run: %w", apperrors.NewConfigInvalid("expansion_cap", "negative"))
	router, _ = newTestRouter(&mockRunner{err: wrapped})
	_, body = do(t, router, http.MethodPost, "/api/runs", map[string]any{
		"seed": map[string]any{"name": "Seed"}, "wait": true,
	})
	w, _ = do(t, router, http.MethodGet, "/api/runs/"+body["id"].(string)+"/report", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	router, _ := newTestRouter(&mockRunner{})
	w, _ := do(t, router, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
