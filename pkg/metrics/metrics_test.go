package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreNilSafe(t *testing.T) {
	m := (*DaemonMetrics)(nil)

	m.RecordPacketReceived("cconnect.ping")
	m.RecordPacketSent("cconnect.ping")
	m.SetConnectedDevices(2)
	m.SetPairedDevices(1)
	m.RecordDiscovery()
	m.RecordTransferProgress("send", 1024)
	m.RecordTransferComplete("send", true, 0.5)
}

func TestHandlerDisabledReturns404(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEnabledMetricsExposed(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	m := NewDaemonMetrics()
	require.NotNil(t, m)

	m.RecordPacketReceived("cconnect.ping")
	m.RecordPacketSent("cconnect.pair")
	m.SetConnectedDevices(3)
	m.RecordTransferProgress("receive", 4096)
	m.RecordTransferComplete("receive", false, 1.25)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "cconnect_packets_received_total")
	assert.Contains(t, body, "cconnect_connected_devices 3")
	assert.Contains(t, body, `cconnect_transfers_total{direction="receive",result="failure"} 1`)
}
