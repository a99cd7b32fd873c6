package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/store"
)

func TestGetStatsEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[store.EventStats](t, resp)
	assert.Zero(t, stats.TotalEvents)
	assert.Zero(t, stats.ActiveExperiments)
	assert.Zero(t, stats.AvgLifetimeMS)
}

func TestGetStatsPopulated(t *testing.T) {
	env := newTestEnv(t)

	job := decode[engine.Result](t, env.post(t, "/api/traffic/start", trafficBody))
	decode[engine.Result](t, env.post(t, "/api/failures/network/delay", delayBody))
	env.post(t, "/api/traffic/stop/"+job.ID, "")

	var stats store.EventStats
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.ts.URL + "/api/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		stats = store.EventStats{}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.TotalEvents == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, stats.LaunchedByKind["traffic-job"])
	assert.Equal(t, 1, stats.LaunchedByKind["network-delay"])
	assert.Equal(t, 1, stats.FinishedByStatus["stopped"])
	assert.Equal(t, 1, stats.ActiveExperiments)
}

func TestListMonitors(t *testing.T) {
	env := newTestEnv(t)

	empty := decode[monitorsResponse](t, env.get(t, "/api/monitors"))
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Monitors)

	applied := decode[engine.Result](t, env.post(t, "/api/failures/network/delay", delayBody))

	got := decode[monitorsResponse](t, env.get(t, "/api/monitors"))
	require.Equal(t, 1, got.Count)
	assert.Equal(t, applied.ID, got.Monitors[0].ExperimentID)
	assert.NotEmpty(t, got.Monitors[0].ContainerID)
}
