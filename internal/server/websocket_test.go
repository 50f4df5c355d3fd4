package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/pkg/api"
)

const wsReadTimeout = 2 * time.Second

func dialWebSocket(
	t *testing.T, env *testServerEnv, query string,
) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.Server.SetupRoutes())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readExecution(t *testing.T, conn *websocket.Conn) *api.Execution {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var res api.Execution
	require.NoError(t, conn.ReadJSON(&res))
	return &res
}

func TestWebSocketStreamsExecution(t *testing.T) {
	env := testServer(t)
	ex := env.running()

	conn := dialWebSocket(t, env, "?execution="+ex.ID)

	initial := readExecution(t, conn)
	assert.Equal(t, ex.ID, initial.ID)
	assert.Equal(t, api.StateRunning, initial.State.Current)

	other := api.NewExecution(testFlow(), nil, nil)
	env.Queues.Executions.Emit(other)
	env.Queues.Executions.Emit(ex.WithState(api.StateSuccess))

	next := readExecution(t, conn)
	assert.Equal(t, ex.ID, next.ID)
	assert.Equal(t, api.StateSuccess, next.State.Current)
}

func TestWebSocketClosedByServer(t *testing.T) {
	env := testServer(t)
	ex := env.running()

	conn := dialWebSocket(t, env, "?execution="+ex.ID)
	readExecution(t, conn)

	env.Server.CloseWebSockets()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
