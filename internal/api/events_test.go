package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/model"
)

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	event string
	data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseFrame {
	t.Helper()
	var (
		frames  []sseFrame
		current sseFrame
		data    []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case line == "" && len(data) > 0:
			current.data = strings.Join(data, "\n")
			frames = append(frames, current)
			current, data = sseFrame{}, nil
		}
	}
	return frames
}

func TestStreamEventsNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/experiments/pumba-delay-missing/events")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamEventsFinishedExperiment(t *testing.T) {
	env := newTestEnv(t)
	applied := decode[engine.Result](t, env.post(t, "/api/failures/network/delay", delayBody))
	env.post(t, "/api/failures/stop/"+applied.ID, "")

	resp := env.get(t, "/api/experiments/"+applied.ID+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp)
	require.Len(t, frames, 1)
	assert.Equal(t, sseFrame{event: "done", data: "stopped"}, frames[0])
}

func TestStreamEventsDeliversTransition(t *testing.T) {
	env := newTestEnv(t)
	applied := decode[engine.Result](t, env.post(t, "/api/failures/network/delay", delayBody))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/experiments/"+applied.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Headers are flushed after subscribing, so the stop below is observed.
	env.post(t, "/api/failures/stop/"+applied.ID, "")

	frames := readSSE(t, resp)
	require.Len(t, frames, 2, "frames: %+v", frames)

	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &ev))
	assert.Equal(t, applied.ID, ev.ExperimentID)
	assert.Equal(t, model.StatusActive, ev.From)
	assert.Equal(t, model.StatusStopped, ev.To)

	assert.Equal(t, sseFrame{event: "done", data: "stopped"}, frames[1])
	require.Eventually(t, func() bool { return env.eng.Broker().Topics() == 0 },
		time.Second, 5*time.Millisecond, "finished stream left a broker topic behind")
}

func TestStreamEventsClientDisconnectReleasesTopic(t *testing.T) {
	env := newTestEnv(t)
	applied := decode[engine.Result](t, env.post(t, "/api/failures/network/delay", delayBody))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/experiments/"+applied.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.eng.Broker().Topics())

	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool { return env.eng.Broker().Topics() == 0 },
		time.Second, 5*time.Millisecond)
	rec, ok := env.eng.Experiment(applied.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusActive, rec.Status)
}

func TestEventHistory(t *testing.T) {
	env := newTestEnv(t)
	started := decode[engine.Result](t, env.post(t, "/api/traffic/start", trafficBody))
	env.post(t, "/api/traffic/stop/"+started.ID, "")

	var history eventHistoryResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.ts.URL + "/api/experiments/" + started.ID + "/events/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		history = eventHistoryResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
			return false
		}
		return len(history.Events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, started.ID, history.ExperimentID)
	assert.Equal(t, model.Status(""), history.Events[0].From)
	assert.Equal(t, model.StatusActive, history.Events[0].To)
	assert.Equal(t, model.SourceLaunch, history.Events[0].Source)
	assert.Equal(t, model.StatusStopped, history.Events[1].To)
}

func TestEventHistoryUnknownExperiment(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/experiments/k6-job-missing/events/history")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWriteSSEDataSplitsLines(t *testing.T) {
	rec := &strings.Builder{}
	w := &builderWriter{Builder: rec, header: http.Header{}}

	require.NoError(t, writeSSEData(w, "first\nsecond"))
	assert.Equal(t, "data: first\ndata: second\n\n", rec.String())
}

// builderWriter is a minimal http.ResponseWriter over a strings.Builder.
type builderWriter struct {
	*strings.Builder
	header http.Header
}

func (b *builderWriter) Header() http.Header { return b.header }
func (b *builderWriter) WriteHeader(int)     {}
