package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ScheduleRefreshes *prometheus.CounterVec // source, result: ok|error
	ScheduleRows      *prometheus.GaugeVec   // source, file
	SkippedRows       *prometheus.CounterVec // reason: malformed|dangling|short_feed

	TrainRefreshes *prometheus.CounterVec // result: ok|error|busy
	ActiveTrains   prometheus.Gauge

	Published    prometheus.Counter
	PublishErrs  prometheus.Counter
	FetchLatency *prometheus.HistogramVec // feed: schedule|realtime|live
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ScheduleRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_schedule_refreshes_total",
			Help: "Schedule imports by source and result.",
		}, []string{"source", "result"}),
		ScheduleRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "railtrack_schedule_rows",
			Help: "Rows accepted in the last import, by source and file.",
		}, []string{"source", "file"}),
		SkippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_skipped_rows_total",
			Help: "Rows skipped while importing or matching, by reason.",
		}, []string{"reason"}),
		TrainRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railtrack_train_refreshes_total",
			Help: "Live train refresh cycles by result.",
		}, []string{"result"}),
		ActiveTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railtrack_active_trains",
			Help: "Trains in the last committed live snapshot.",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_trains_published_total",
			Help: "Train snapshots published.",
		}),
		PublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railtrack_publish_errors_total",
			Help: "Train snapshot publish errors.",
		}),
		FetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railtrack_fetch_duration_seconds",
			Help:    "Duration of upstream fetches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"feed"}),
	}

	reg.MustRegister(
		c.ScheduleRefreshes, c.ScheduleRows, c.SkippedRows,
		c.TrainRefreshes, c.ActiveTrains,
		c.Published, c.PublishErrs, c.FetchLatency,
	)

	return c
}

// The methods below are nil safe, so components can run without a
// collector.

func (c *Collector) ScheduleResult(source string, err error) {
	if c == nil {
		return
	}
	c.ScheduleRefreshes.WithLabelValues(source, result(err)).Inc()
}

func (c *Collector) SetScheduleRows(source, file string, n int) {
	if c == nil {
		return
	}
	c.ScheduleRows.WithLabelValues(source, file).Set(float64(n))
}

func (c *Collector) Skipped(reason string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.SkippedRows.WithLabelValues(reason).Add(float64(n))
}

func (c *Collector) TrainResult(res string, active int) {
	if c == nil {
		return
	}
	c.TrainRefreshes.WithLabelValues(res).Inc()
	if res == "ok" {
		c.ActiveTrains.Set(float64(active))
	}
}

func (c *Collector) PublishResult(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.PublishErrs.Inc()
	} else {
		c.Published.Inc()
	}
}

func (c *Collector) ObserveFetch(feed string, d time.Duration) {
	if c == nil {
		return
	}
	c.FetchLatency.WithLabelValues(feed).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
