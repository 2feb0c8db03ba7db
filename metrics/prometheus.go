package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ua2f"

// Register exposes the collector's counters on reg. The values are read at
// scrape time, so nothing on the packet path touches Prometheus.
func (c *Collector) Register(reg prometheus.Registerer) {
	f := promauto.With(reg)

	counter := func(name, help string, labels prometheus.Labels, fn func() uint64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(fn()) })
	}

	counter("user_agent_packets_total", "Packets carrying at least one User-Agent header.", nil, c.userAgent.Load)
	counter("http_packets_total", "TCP packets long enough to carry a User-Agent header.", nil, c.http.Load)
	counter("tcp_packets_total", "TCP packets with a non-trivial payload.", nil, c.tcp.Load)
	counter("ip_packets_total", "Queued packets by IP version.", prometheus.Labels{"version": "4"}, c.ipv4.Load)
	counter("ip_packets_total", "Queued packets by IP version.", prometheus.Labels{"version": "6"}, c.ipv6.Load)
	counter("mangled_packets_total", "Packets re-injected with a rewritten payload.", nil, c.mangled.Load)

	for i, kind := range verdictKinds {
		counter("verdicts_total", "Verdicts by connmark decision.", prometheus.Labels{"kind": kind}, c.verdicts[i].Load)
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "not_http_cache_entries",
		Help:      "Flows currently remembered as not HTTP.",
	}, func() float64 {
		c.mu.RLock()
		fn := c.cacheSize
		c.mu.RUnlock()
		if fn == nil {
			return 0
		}
		return float64(fn())
	})
}
