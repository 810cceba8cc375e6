package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hive-mind/hivecore/internal/events"
	"github.com/hive-mind/hivecore/internal/runtime"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

// TestHub_ForwardsSwarmEventToConnectedClient exercises the full path: a
// SwarmEvent emitted on the Runtime reaches a websocket client connected
// through ServeWS.
func TestHub_ForwardsSwarmEventToConnectedClient(t *testing.T) {
	rt := runtime.New(testLogger().Logger, runtime.Options{})
	t.Cleanup(rt.Shutdown)

	hub := NewHub(rt, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	rt.EmitSwarm(events.SwarmEvent{Kind: events.SwarmCreated, SwarmID: "sw-1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.SwarmEvent
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, events.SwarmCreated, got.Kind)
	require.Equal(t, "sw-1", got.SwarmID)
}

func TestHub_ClientCount_DecrementsOnDisconnect(t *testing.T) {
	rt := runtime.New(testLogger().Logger, runtime.Options{})
	t.Cleanup(rt.Shutdown)

	hub := NewHub(rt, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
