package obs

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the poll loop counters. Create it once per process;
// promauto registers against the default registry.
type Metrics struct {
	Cycles        prometheus.Counter
	Checked       prometheus.Counter
	Matched       prometheus.Counter
	Suppressed    prometheus.Counter
	Notified      prometheus.Counter
	Errors        prometheus.Counter
	CycleDuration prometheus.Histogram
}

// NewMetrics registers and returns the poll loop metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Cycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_cycles_total", Help: "Poll cycles started",
		}),
		Checked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_messages_checked_total", Help: "Messages fetched and evaluated",
		}),
		Matched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_messages_matched_total", Help: "Messages passing sender and keyword gates",
		}),
		Suppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_messages_suppressed_total", Help: "Matches dropped by the recipient exclusion list",
		}),
		Notified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_notifications_sent_total", Help: "Webhook notifications delivered",
		}),
		Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailwatch_errors_total", Help: "Cycle, fetch, and delivery errors",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "mailwatch_cycle_duration_seconds", Help: "Poll cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// BootstrapMetricsServer serves /metrics and /healthz on addr in a
// background goroutine and returns the server for shutdown. A non-nil
// history handler is mounted at /history.
func BootstrapMetricsServer(addr string, history http.Handler, l *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if history != nil {
		mux.Handle("/history", history)
	}

	ms := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()

	return ms
}
