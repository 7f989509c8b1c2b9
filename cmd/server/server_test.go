package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/mutstate/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, seed map[string]any) *httptest.Server {
	t.Helper()
	loop := sched.NewLoop(context.Background(), 0, nil)
	t.Cleanup(loop.Close)

	ts := httptest.NewServer(NewServer(loop, seed, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postActions(t *testing.T, ts *httptest.Server, doc string, reqs ...ActionRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(reqs)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/docs/"+doc+"/actions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func getDoc(t *testing.T, ts *httptest.Server, doc string) map[string]any {
	t.Helper()
	resp, err := http.Get(ts.URL + "/docs/" + doc)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestActionsCommitThroughLoop(t *testing.T) {
	ts := newTestServer(t, map[string]any{
		"todo": map[string]any{"title": "groceries", "items": []any{"eggs"}},
	})

	resp := postActions(t, ts, "todo",
		ActionRequest{Op: "append", Path: []any{"items"}, Value: "milk"},
		ActionRequest{Op: "update", Path: []any{}, Value: map[string]any{"title": "shopping"}},
	)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	flush, err := http.Post(ts.URL+"/docs/todo/flush", "application/json", nil)
	require.NoError(t, err)
	flush.Body.Close()
	assert.Equal(t, http.StatusNoContent, flush.StatusCode)

	doc := getDoc(t, ts, "todo")
	assert.Equal(t, "shopping", doc["title"])
	assert.Equal(t, []any{"eggs", "milk"}, doc["items"])
}

func TestActionsRejectBadPaths(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postActions(t, ts, "empty", ActionRequest{Op: "replace", Path: []any{"missing"}, Value: 1})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postActions(t, ts, "empty", ActionRequest{Op: "explode", Path: []any{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketReceivesCommits(t *testing.T) {
	ts := newTestServer(t, map[string]any{"counter": map[string]any{"n": 0.0}})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?doc=counter"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "init", msg.Type)
	assert.JSONEq(t, `{"n":0}`, string(msg.Data))

	data, err := json.Marshal(ActionRequest{Op: "set", Path: []any{}, Key: "n", Value: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "action", Data: data}))

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
frame: 5ms
documents:
  todo:
    items: [eggs, milk]
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 5*time.Millisecond, cfg.Frame)
	assert.Equal(t, map[string]any{"items": []any{"eggs", "milk"}}, cfg.Documents["todo"])

	cfg, err = loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}
