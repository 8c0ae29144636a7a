package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphloom/internal/config"
	"graphloom/internal/pipeline"
	"graphloom/internal/storage"
	"graphloom/pkg/types"
)

func testServer(t *testing.T, store storage.Store, feed *pipeline.Feed) *Server {
	t.Helper()
	cfg := config.DefaultConfig().Server
	server, err := NewServer(&cfg, store, feed, zap.NewNop())
	require.NoError(t, err)
	return server
}

func seedExperiment(t *testing.T, store storage.Store) string {
	t.Helper()
	exp, err := types.NewExperiment("api-test")
	require.NoError(t, err)
	exp.Status = types.ExperimentStatusCompleted
	id, err := store.UpsertExperiment(context.Background(), exp)
	require.NoError(t, err)
	return id
}

func TestNewServerValidation(t *testing.T) {
	cfg := config.DefaultConfig().Server
	_, err := NewServer(nil, storage.NewMemoryStore(), nil, zap.NewNop())
	require.Error(t, err)
	_, err = NewServer(&cfg, nil, nil, zap.NewNop())
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t, storage.NewMemoryStore(), nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	server := testServer(t, storage.NewMemoryStore(), nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExperimentEndpoints(t *testing.T) {
	store := storage.NewMemoryStore()
	id := seedExperiment(t, store)
	require.NoError(t, store.UpsertExperimentResult(context.Background(), &types.ExperimentResult{
		ExperimentID: id,
		Scenario:     types.ScenarioNormal,
		F1:           0.5,
	}))

	server := testServer(t, store, nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/experiments/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exp types.Experiment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&exp))
	assert.Equal(t, "api-test", exp.Name)

	missing, err := http.Get(ts.URL + "/api/v1/experiments/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	results, err := http.Get(ts.URL + "/api/v1/experiments/" + id + "/results")
	require.NoError(t, err)
	defer results.Body.Close()
	require.Equal(t, http.StatusOK, results.StatusCode)
	var payload struct {
		Results []types.ExperimentResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(results.Body).Decode(&payload))
	require.Len(t, payload.Results, 1)
	assert.Equal(t, 0.5, payload.Results[0].F1)
}

func TestActivityEndpointPrefersFeed(t *testing.T) {
	feed := pipeline.NewFeed(0)
	rec, err := types.NewActivityRecord("pipeline", "pipeline_run", types.ActivityStatusCompleted)
	require.NoError(t, err)
	feed.Publish(*rec)

	server := testServer(t, storage.NewMemoryStore(), feed)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/activity?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Activity []types.ActivityRecord `json:"activity"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Activity, 1)
	assert.Equal(t, "pipeline_run", payload.Activity[0].OperationName)

	bad, err := http.Get(ts.URL + "/api/v1/activity?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestWebSocketStreamsActivity(t *testing.T) {
	feed := pipeline.NewFeed(0)
	server := testServer(t, storage.NewMemoryStore(), feed)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	rec, err := types.NewActivityRecord("pipeline", "stage_complete", types.ActivityStatusCompleted)
	require.NoError(t, err)
	feed.Publish(*rec)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got types.ActivityRecord
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "stage_complete", got.OperationName)
}

func TestWebSocketWithoutFeedUnavailable(t *testing.T) {
	server := testServer(t, storage.NewMemoryStore(), nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
