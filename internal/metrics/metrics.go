// Package metrics exposes sync and Battle.net counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "wowsync"

// Collector is a prometheus.Collector for the sync runs. All methods are
// safe on a nil Collector.
type Collector struct {
	syncRuns     *prometheus.CounterVec
	syncDuration prometheus.Histogram
	roleChanges  *prometheus.CounterVec
	usersKicked  *prometheus.CounterVec
	bnetRequests *prometheus.CounterVec
}

func New() *Collector {
	return &Collector{
		syncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sync_runs_total",
				Help:      "The number of finished sync runs by result.",
			}, []string{"result"},
		),
		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sync_duration_seconds",
				Help:      "The time a sync run took.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		roleChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "role_changes_total",
				Help:      "The number of roles added or removed per remote system.",
			}, []string{"remote_system", "op"},
		),
		usersKicked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "users_kicked_total",
				Help:      "The number of inactive users removed per remote system.",
			}, []string{"remote_system"},
		),
		bnetRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bnet_requests_total",
				Help:      "The number of Battle.net API requests by endpoint and status code.",
			}, []string{"endpoint", "code"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.syncRuns.Describe(ch)
	c.syncDuration.Describe(ch)
	c.roleChanges.Describe(ch)
	c.usersKicked.Describe(ch)
	c.bnetRequests.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.syncRuns.Collect(ch)
	c.syncDuration.Collect(ch)
	c.roleChanges.Collect(ch)
	c.usersKicked.Collect(ch)
	c.bnetRequests.Collect(ch)
}

func (c *Collector) SyncFinished(took time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.syncRuns.WithLabelValues(result).Inc()
	c.syncDuration.Observe(took.Seconds())
}

func (c *Collector) RoleChanges(remoteSystemID int64, added, removed int) {
	if c == nil {
		return
	}
	rs := strconv.FormatInt(remoteSystemID, 10)
	c.roleChanges.WithLabelValues(rs, "add").Add(float64(added))
	c.roleChanges.WithLabelValues(rs, "remove").Add(float64(removed))
}

func (c *Collector) UsersKicked(remoteSystemID int64, n int) {
	if c == nil {
		return
	}
	c.usersKicked.WithLabelValues(strconv.FormatInt(remoteSystemID, 10)).Add(float64(n))
}

// BnetRequest matches the bnet.Options OnRequest hook.
func (c *Collector) BnetRequest(endpoint string, status int) {
	if c == nil {
		return
	}
	c.bnetRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
