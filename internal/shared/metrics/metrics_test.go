package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	SessionTransitionsTotal.Reset()
	ProxyProbesTotal.Reset()

	SessionTransitionsTotal.WithLabelValues("MINING").Add(3)
	ProxyProbesTotal.WithLabelValues("ok").Inc()
	ProxiesInUse.Set(2)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `grassfarm_session_transitions_total{phase="MINING"} 3`)
	assert.Contains(t, string(body), `grassfarm_proxy_probes_total{result="ok"} 1`)
	assert.Contains(t, string(body), `grassfarm_proxies_in_use 2`)
}

func TestSessionsCurrent(t *testing.T) {
	SessionsCurrent.Reset()
	SessionsCurrent.WithLabelValues("MINING").Inc()
	SessionsCurrent.WithLabelValues("MINING").Inc()
	SessionsCurrent.WithLabelValues("MINING").Dec()

	m := &dto.Metric{}
	require.NoError(t, SessionsCurrent.WithLabelValues("MINING").Write(m))
	assert.Equal(t, float64(1), m.GetGauge().GetValue())
}
