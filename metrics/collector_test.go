package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()
	_, err := uuid.Parse(c.InstanceID)
	require.NoError(t, err)

	c.CountIPv4()
	c.CountIPv4()
	c.CountIPv6()
	c.CountTCP()
	c.CountHTTPCandidate()
	c.CountUserAgent()

	c.CountVerdict(false, 0, false)
	c.CountVerdict(true, 16, false)
	c.CountVerdict(true, 17, false)
	c.CountVerdict(true, 100, false)
	c.CountVerdict(true, 43, false)
	c.CountVerdict(true, 44, true)

	s := c.Snapshot()
	assert.Equal(t, uint64(2), s.IPv4Packets)
	assert.Equal(t, uint64(1), s.IPv6Packets)
	assert.Equal(t, uint64(1), s.TCPPackets)
	assert.Equal(t, uint64(1), s.HTTPPackets)
	assert.Equal(t, uint64(1), s.UserAgentPackets)
	assert.Equal(t, uint64(1), s.MangledPackets)
	assert.Equal(t, map[string]uint64{
		VerdictUnchanged: 1,
		VerdictInit:      1,
		VerdictStep:      2,
		VerdictNotHTTP:   1,
		VerdictHTTP:      1,
	}, s.Verdicts)
}

func TestCollector_MaybeReport(t *testing.T) {
	c := NewCollector()

	reports := func() int { return len(c.Snapshot().RecentEvents) }

	for i := 0; i < 7; i++ {
		c.CountUserAgent()
		c.MaybeReport()
	}
	assert.Zero(t, reports())

	c.CountUserAgent() // 8 = 2 * 4
	c.MaybeReport()
	assert.Equal(t, 1, reports())
	assert.Equal(t, uint64(8), c.lastReport.Load())

	c.MaybeReport()
	assert.Equal(t, 1, reports(), "no new report without new packets")

	for c.userAgent.Load() < 16 {
		c.CountUserAgent()
		c.MaybeReport()
	}
	assert.Equal(t, 2, reports())
	assert.True(t, strings.Contains(c.Snapshot().RecentEvents[0].Message, "handled 16 user-agent packets"))
}

func TestCollector_ReportStep(t *testing.T) {
	c := NewCollector()
	c.lastReport.Store(10000)
	c.userAgent.Store(10000 + reportStep - 1)
	c.MaybeReport()
	assert.Equal(t, uint64(10000), c.lastReport.Load())

	c.CountUserAgent()
	c.MaybeReport()
	assert.Equal(t, uint64(10000+reportStep), c.lastReport.Load())
}

func TestCollector_Rates(t *testing.T) {
	c := NewCollector()
	start := c.lastUpdate
	for i := 0; i < 10; i++ {
		c.CountIPv4()
	}
	c.updateRates(start.Add(2 * time.Second))

	s := c.Snapshot()
	assert.InDelta(t, 5.0, s.CurrentPPS, 0.001)
	require.Len(t, s.PacketRate, 1)
}

func TestCollector_Prometheus(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	c.Register(reg)
	c.SetCacheSize(func() int { return 3 })

	c.CountIPv6()
	c.CountVerdict(true, 44, true)

	expected := `
# HELP ua2f_ip_packets_total Queued packets by IP version.
# TYPE ua2f_ip_packets_total counter
ua2f_ip_packets_total{version="4"} 0
ua2f_ip_packets_total{version="6"} 1
# HELP ua2f_not_http_cache_entries Flows currently remembered as not HTTP.
# TYPE ua2f_not_http_cache_entries gauge
ua2f_not_http_cache_entries 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ua2f_ip_packets_total", "ua2f_not_http_cache_entries"))

	n, err := testutil.GatherAndCount(reg, "ua2f_verdicts_total")
	require.NoError(t, err)
	assert.Equal(t, len(verdictKinds), n)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h 0m 0s", formatDuration(time.Hour))
	assert.Equal(t, "1d 1h 0m 0s", formatDuration(25*time.Hour))
}
