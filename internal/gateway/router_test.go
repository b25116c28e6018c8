package gateway_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/conduit/internal/gateway"
	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/network"
	"github.com/HMasataka/conduit/pkg/transport/memory"
)

func newTestServer(t *testing.T, opts ...memory.Option) (*httptest.Server, *network.Manager) {
	t.Helper()

	logger := logging.New(logging.Config{Level: "error", Format: "text"})

	manager := network.NewManager(network.WithLogger(logger))
	manager.RegisterProtocolHandler(network.ProtocolCustom, memory.Factory(opts...))
	manager.RegisterProtocolHandler(network.ProtocolHTTP, memory.Factory(opts...))

	gw := gateway.New(manager, logger, 2*time.Second)

	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { manager.CloseAllConnections() })

	return srv, manager
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func createConnection(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	resp, body := postJSON(t, srv.URL+"/connections", map[string]any{
		"host":     "localhost",
		"port":     9000,
		"protocol": "custom",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	id, ok := body["connection_id"].(string)
	require.True(t, ok)
	return id
}

func TestCreateConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createConnection(t, srv)
	assert.Equal(t, "conn_0", id)
}

func TestCreateConnectionUnknownProtocol(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/connections", map[string]any{
		"host":     "localhost",
		"port":     9000,
		"protocol": "carrier-pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "carrier-pigeon")
}

func TestCreateConnectionUnregisteredProtocol(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/connections", map[string]any{
		"host":     "localhost",
		"port":     9000,
		"protocol": "mqtt",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, float64(network.CodeHandlerUnavailable), body["code"])
}

func TestConnectionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createConnection(t, srv)
	base := fmt.Sprintf("%s/connections/%s", srv.URL, id)

	resp, body := postJSON(t, base+"/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["state"])

	resp, _ = postJSON(t, base+"/send", map[string]string{"data": "ping", "topic": "t"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body = postJSON(t, base+"/receive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ping", body["data"])
	assert.Equal(t, "t", body["topic"])

	resp, body = postJSON(t, base+"/disconnect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["state"])
}

func TestReceiveTimeout(t *testing.T) {
	srv, _ := newTestServer(t, memory.WithResponder(func(network.Message) *network.Message {
		return nil
	}))

	id := createConnection(t, srv)
	base := fmt.Sprintf("%s/connections/%s", srv.URL, id)

	resp, _ := postJSON(t, base+"/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, base+"/send", map[string]string{"data": "swallowed"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = postJSON(t, base+"/receive?timeout=50ms", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestConnectionState(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createConnection(t, srv)

	resp, body := getJSON(t, fmt.Sprintf("%s/connections/%s/state", srv.URL, id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["state"])

	resp, body = getJSON(t, srv.URL+"/connections/conn_99/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", body["state"])
}

func TestListConnections(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createConnection(t, srv)

	resp, body := getJSON(t, srv.URL+"/connections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["active"])

	resp, _ = postJSON(t, fmt.Sprintf("%s/connections/%s/connect", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = getJSON(t, srv.URL+"/connections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{id}, body["active"])
}

func TestCloseConnection(t *testing.T) {
	srv, manager := newTestServer(t)

	id := createConnection(t, srv)

	resp := doDelete(t, fmt.Sprintf("%s/connections/%s", srv.URL, id))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, network.StateError, manager.ConnectionState(id))

	resp = doDelete(t, fmt.Sprintf("%s/connections/%s", srv.URL, id))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOperationsOnUnknownConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	base := srv.URL + "/connections/conn_42"

	for _, path := range []string{"/connect", "/disconnect", "/send", "/receive"} {
		resp, body := postJSON(t, base+path, map[string]string{"data": "x"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, float64(network.CodeConnectionNotFound), body["code"], path)
	}
}

func TestFetch(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello"
	srv, _ := newTestServer(t, memory.WithResponder(func(msg network.Message) *network.Message {
		reply := network.NewMessage([]byte(raw), "")
		return &reply
	}))

	resp, body := postJSON(t, srv.URL+"/fetch", map[string]any{
		"url":    "http://example.com:8080/api/data",
		"method": "GET",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(200), body["status_code"])
	assert.Equal(t, "OK", body["status_text"])
	assert.Equal(t, "hello", body["body"])

	headers, ok := body["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "text/plain", headers["Content-Type"])
}

func TestFetchInvalidURL(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/fetch", map[string]any{
		"url": "example.com/no-protocol",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, float64(network.CodeInvalidURL), body["code"])
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp, decodeBody(t, resp)
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}
