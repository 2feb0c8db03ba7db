package http

import (
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolplus/ua2f/config"
	"github.com/wolplus/ua2f/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.UserAgent.Custom = "Mozilla/5.0"

	c := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	c.Register(reg)

	srv := httptest.NewServer(NewMux(&cfg, c, reg))
	t.Cleanup(srv.Close)
	return srv, c
}

func get(t *testing.T, url string) (*stdhttp.Response, []byte) {
	t.Helper()
	resp, err := stdhttp.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStats(t *testing.T) {
	srv, c := newTestServer(t)
	c.CountIPv4()
	c.CountTCP()
	c.CountUserAgent()
	c.CountVerdict(true, 44, true)

	resp, body := get(t, srv.URL+"/api/stats")
	assert.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, c.InstanceID, snap.InstanceID)
	assert.EqualValues(t, 1, snap.IPv4Packets)
	assert.EqualValues(t, 1, snap.UserAgentPackets)
	assert.EqualValues(t, 1, snap.MangledPackets)
	assert.EqualValues(t, 1, snap.Verdicts[metrics.VerdictHTTP])
}

func TestStats_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := stdhttp.Post(srv.URL+"/api/stats", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, stdhttp.StatusMethodNotAllowed, resp.StatusCode)
}

func TestConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	_, body := get(t, srv.URL+"/api/config")

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "config", got["user_agent_source"])
	assert.EqualValues(t, len("Mozilla/5.0"), got["user_agent_length"])
	assert.Contains(t, got, "queue")
}

func TestSystemInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	_, body := get(t, srv.URL+"/api/system/info")

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Contains(t, got, "log_clients")
	assert.Contains(t, got, "service_manager")
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, c := newTestServer(t)
	c.CountUserAgent()

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ua2f_user_agent_packets_total 1")
	assert.Contains(t, string(body), `ua2f_verdicts_total{kind="http"} 0`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := stdhttp.NewRequest(stdhttp.MethodOptions, srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	resp, err := stdhttp.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, stdhttp.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStartServer_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	require.NoError(t, cfg.Validate())
	srv, err := StartServer(&cfg, metrics.NewCollector(), prometheus.NewRegistry())
	assert.NoError(t, err)
	assert.Nil(t, srv)
}
