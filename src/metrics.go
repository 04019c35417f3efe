package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ryansname/batteryapp/src/dispatch"
)

// PromObserver records dispatcher events as Prometheus metrics
type PromObserver struct {
	requests *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPromObserver creates the request metrics and registers them on reg
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batteryapp_requests_total",
			Help: "Requests answered, by topic and outcome class.",
		}, []string{"topic", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batteryapp_requests_dropped_total",
			Help: "Inbound messages dropped without a reply.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batteryapp_request_duration_seconds",
			Help:    "Time from receipt to reply, by topic.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"topic"}),
	}
	reg.MustRegister(o.requests, o.dropped, o.duration)
	return o
}

// RequestHandled implements dispatch.Observer
func (o *PromObserver) RequestHandled(topic string, class dispatch.Class, elapsed time.Duration) {
	o.requests.WithLabelValues(topic, class.String()).Inc()
	o.duration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// RequestDropped implements dispatch.Observer
func (o *PromObserver) RequestDropped(_ string, reason string) {
	// Topic is left out: unknown topics are unbounded label values
	o.dropped.WithLabelValues(reason).Inc()
}

// newMetricsRegistry returns a registry with the Go runtime collectors
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// metricsServer serves /metrics on addr until ctx is done
func metricsServer(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	server := &http.Server{
		Addr:              addr,
		Handler:           newMetricsHandler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown: %v\n", err)
		}
	}()

	log.Printf("Metrics server listening on %s\n", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server failed: %v\n", err)
	}
}
