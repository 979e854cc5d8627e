package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue reads one labelled counter from the registry.
func counterValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordValidationFailure("node_announcement")
	m.RecordValidationFailure("node_announcement")
	m.RecordViolation("ping_flood")
	m.RecordHandshake(false)
	m.RecordReceived("ping")
	m.RecordSent("pong")
	m.RecordBan()
	m.PeerConnected(1)
	m.UpdateGossip(3, 2, 1)

	assert.Equal(t, 2.0, counterValue(t, m, "lnpeer_gossip_validation_failures_total", "message", "node_announcement"))
	assert.Equal(t, 1.0, counterValue(t, m, "lnpeer_protocol_violations_total", "reason", "ping_flood"))
	assert.Equal(t, 1.0, counterValue(t, m, "lnpeer_handshakes_total", "result", "failure"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordValidationFailure("x")
	m.RecordViolation("x")
	m.RecordHandshake(true)
	m.RecordReceived("x")
	m.RecordSent("x")
	m.RecordBan()
	m.PeerConnected(1)
	m.UpdateGossip(0, 0, 0)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordReceived("init")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `lnpeer_messages_received_total{type="init"} 1`))
}
