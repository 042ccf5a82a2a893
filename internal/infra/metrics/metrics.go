package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dteubot_notifications_sent_total",
		Help: "Class reminders successfully delivered, by offset.",
	}, []string{"offset"})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dteubot_notifications_failed_total",
		Help: "Per-chat dispatch failures, by offset.",
	}, []string{"offset"})

	UpstreamFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dteubot_timetable_upstream_faults_total",
		Help: "Timetable API faults observed during sweeps.",
	})

	SweepsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dteubot_sweeps_aborted_total",
		Help: "Sweeps abandoned early after exhausting the fault budget.",
	}, []string{"offset"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dteubot_sweep_duration_seconds",
		Help:    "Duration of full population sweeps, by offset.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"offset"})
)

// Serve exposes /metrics on addr in a background goroutine. Returns the
// server so the caller can shut it down.
func Serve(addr string, logger *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", addr).Info("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics endpoint failed")
		}
	}()
	return srv
}
