package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the manager's caches as Prometheus metrics, read on
// every scrape.
type Collector struct {
	m *Manager

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	size      *prometheus.Desc
	healthy   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(namespace string, m *Manager) *Collector {
	label := []string{"cache"}
	return &Collector{
		m:         m,
		hits:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "hits_total"), "Cache lookups served from the cache.", label, nil),
		misses:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "misses_total"), "Cache lookups that missed.", label, nil),
		evictions: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "evictions_total"), "Entries evicted or expired.", label, nil),
		size:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "entries"), "Entries currently held.", label, nil),
		healthy:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "healthy"), "1 when the backend is reachable.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.size
	ch <- c.healthy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.m.caches {
		st := n.Source.Stats()
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits), n.Name)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses), n.Name)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions), n.Name)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.Size), n.Name)
	}
	up := 1.0
	if c.m.pinger != nil && !c.m.pinger.IsConnected() {
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, up)
}
