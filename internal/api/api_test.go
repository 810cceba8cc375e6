package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/consensus"
	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/memory"
	"github.com/hive-mind/hivecore/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hivePath := filepath.Join(t.TempDir(), "hive.db")
	hiveStore, err := store.Open(hivePath, testLogger(), store.Options{}, store.HiveMindMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hiveStore.Close() })

	swarmPath := filepath.Join(t.TempDir(), "swarm.db")
	swarmStore, err := store.Open(swarmPath, testLogger(), store.Options{}, store.SwarmMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = swarmStore.Close() })

	mem := memory.New(swarmStore, nil, logrus.NewEntry(testLogger()), memory.Options{})
	cons := consensus.New(hiveStore, nil, logrus.NewEntry(testLogger()))

	s := New(Deps{HiveStore: hiveStore, Memory: mem, Consensus: cons, Logger: logrus.NewEntry(testLogger())})
	return s, hiveStore
}

func TestHandleHealthz_ReportsOK(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestHandleStatus_ListsActiveSwarmsWithCounts(t *testing.T) {
	s, hiveStore := newTestServer(t)
	ctx := context.Background()

	swarmID := "sw-api-1"
	require.NoError(t, hiveStore.InsertSwarm(ctx, domain.Swarm{
		ID: swarmID, Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
		Status: domain.SwarmActive, MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, hiveStore.InsertAgent(ctx, domain.Agent{
		ID: "a-1", SwarmID: swarmID, Name: "a-1", Type: domain.WorkerCoder, Role: domain.RoleWorker,
		Status: domain.AgentIdle, Capabilities: []string{"coding"}, CreatedAt: time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Swarms []SwarmSummary `json:"swarms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Swarms, 1)
	require.Equal(t, swarmID, body.Swarms[0].Swarm.ID)
	require.Equal(t, 1, body.Swarms[0].AgentCount)
}

func TestHandleMetrics_AggregatesAcrossSwarms(t *testing.T) {
	s, hiveStore := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"sw-m-1", "sw-m-2"} {
		require.NoError(t, hiveStore.InsertSwarm(ctx, domain.Swarm{
			ID: id, Name: "n", Objective: "o", QueenType: domain.QueenStrategic,
			Status: domain.SwarmActive, MaxWorkers: 1, ConsensusAlgorithm: domain.AlgorithmMajority,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}))
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(2), body["active_swarms"])
}

// TestEventsRoute_AbsentWithoutHub confirms the websocket feed is only
// registered when a Hub is supplied, per New's conditional route.
func TestEventsRoute_AbsentWithoutHub(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
