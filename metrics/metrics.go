// Package metrics exposes a Client's pool and executor occupancy as
// Prometheus metrics, following the collector pattern used throughout
// the examples for wrapping a periodic Stats() call.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webquery/websqlite3"
)

// Collector adapts websqlite3.Client.Stats into a prometheus.Collector
// that can be registered with a prometheus.Registry. It also
// implements websqlite3.Observer, so wiring it in via
// websqlite3.WithObserver feeds websqlite3_query_duration_seconds from
// every completed Query/Execute call.
type Collector struct {
	client *websqlite3.Client

	poolSize         *prometheus.Desc
	poolIdle         *prometheus.Desc
	poolInUse        *prometheus.Desc
	poolWaiters      *prometheus.Desc
	poolCreatedTotal *prometheus.Desc
	poolClosedTotal  *prometheus.Desc

	queueDepth       *prometheus.Desc
	executorWorkers  *prometheus.Desc
	executorActive   *prometheus.Desc
	executorExecuted *prometheus.Desc
	executorFailed   *prometheus.Desc
	executorTimedOut *prometheus.Desc

	queryDuration *prometheus.HistogramVec
}

// NewCollector wraps client for Prometheus scraping. Pass the returned
// Collector to websqlite3.WithObserver as well to populate
// websqlite3_query_duration_seconds.
func NewCollector(client *websqlite3.Client) *Collector {
	return &Collector{
		client: client,
		poolSize: prometheus.NewDesc(
			"websqlite3_pool_size", "Total connections currently open.", nil, nil),
		poolIdle: prometheus.NewDesc(
			"websqlite3_pool_idle", "Connections currently idle.", nil, nil),
		poolInUse: prometheus.NewDesc(
			"websqlite3_pool_in_use", "Connections currently checked out.", nil, nil),
		poolWaiters: prometheus.NewDesc(
			"websqlite3_pool_waiters", "Callers currently blocked waiting for a connection.", nil, nil),
		poolCreatedTotal: prometheus.NewDesc(
			"websqlite3_pool_created_total", "Connections dialed over the pool's lifetime.", nil, nil),
		poolClosedTotal: prometheus.NewDesc(
			"websqlite3_pool_closed_total", "Connections closed over the pool's lifetime.", nil, nil),
		queueDepth: prometheus.NewDesc(
			"websqlite3_queue_depth", "Requests waiting to be claimed by a worker.", nil, nil),
		executorWorkers: prometheus.NewDesc(
			"websqlite3_executor_workers", "Configured worker goroutine count.", nil, nil),
		executorActive: prometheus.NewDesc(
			"websqlite3_executor_active_workers", "Workers currently running a Request.", nil, nil),
		executorExecuted: prometheus.NewDesc(
			"websqlite3_executor_executed_total", "Requests completed without error.", nil, nil),
		executorFailed: prometheus.NewDesc(
			"websqlite3_executor_failed_total", "Requests completed with a non-timeout error.", nil, nil),
		executorTimedOut: prometheus.NewDesc(
			"websqlite3_executor_timed_out_total", "Requests that failed with a deadline error.", nil, nil),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "websqlite3_query_duration_seconds",
			Help:    "Time from Query/Execute submission to completion, by operation kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
}

// ObserveQuery implements websqlite3.Observer.
func (c *Collector) ObserveQuery(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.queryDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolSize
	ch <- c.poolIdle
	ch <- c.poolInUse
	ch <- c.poolWaiters
	ch <- c.poolCreatedTotal
	ch <- c.poolClosedTotal
	ch <- c.queueDepth
	ch <- c.executorWorkers
	ch <- c.executorActive
	ch <- c.executorExecuted
	ch <- c.executorFailed
	ch <- c.executorTimedOut
	c.queryDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.Stats()

	ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(stats.Pool.Size))
	ch <- prometheus.MustNewConstMetric(c.poolIdle, prometheus.GaugeValue, float64(stats.Pool.Idle))
	ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(stats.Pool.InUse))
	ch <- prometheus.MustNewConstMetric(c.poolWaiters, prometheus.GaugeValue, float64(stats.Pool.Waiters))
	ch <- prometheus.MustNewConstMetric(c.poolCreatedTotal, prometheus.CounterValue, float64(stats.Pool.CreatedTotal))
	ch <- prometheus.MustNewConstMetric(c.poolClosedTotal, prometheus.CounterValue, float64(stats.Pool.ClosedTotal))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(stats.Executor.Queued))
	ch <- prometheus.MustNewConstMetric(c.executorWorkers, prometheus.GaugeValue, float64(stats.Executor.Workers))
	ch <- prometheus.MustNewConstMetric(c.executorActive, prometheus.GaugeValue, float64(stats.Executor.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(c.executorExecuted, prometheus.CounterValue, float64(stats.Executor.TotalExecuted))
	ch <- prometheus.MustNewConstMetric(c.executorFailed, prometheus.CounterValue, float64(stats.Executor.TotalFailed))
	ch <- prometheus.MustNewConstMetric(c.executorTimedOut, prometheus.CounterValue, float64(stats.Executor.TotalTimedOut))

	c.queryDuration.Collect(ch)
}
