package apiclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient wires a Client at whatever loopback port httptest picked.
func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return New(port)
}

func TestDevices(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/devices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"phone-1","name":"Pixel","display_name":"Pixel","type":"phone","connection_state":"connected","pairing_status":"paired","is_trusted":true}]`))
	}))

	devices, err := c.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "phone-1", devices[0].ID)
	assert.True(t, devices[0].IsTrusted)
}

func TestErrorCarriesCode(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no device nope","code":"UnknownDevice"}`))
	}))

	_, err := c.Device("nope")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UnknownDevice", apiErr.Code)
	assert.True(t, apiErr.IsNotFound())
	assert.Contains(t, apiErr.Error(), "UnknownDevice")
}

func TestPingPostsBody(t *testing.T) {
	var gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.Ping("phone-1", "hello"))
	assert.Equal(t, "/api/v1/devices/phone-1/ping", gotPath)
}

func TestMetricsDisabled(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := c.Metrics()
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestDaemonNotRunning(t *testing.T) {
	// A port nothing listens on: bind one, then close it.
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c.baseURL = "http://127.0.0.1:1"

	err := c.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}
