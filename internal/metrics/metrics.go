// Registers:
//
//	#marketfeed_cycles_total
//	#marketfeed_emitted_total
//	#marketfeed_sink_errors_total
//	#marketfeed_sequence
//	#marketfeed_cycle_duration_seconds
//	#go_* and process_* system metrics
//
// Exposed through Handler, mounted on the metrics server and the dashboard.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketfeed/logger"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_cycles_total",
			Help: "Polling cycles by outcome",
		},
		[]string{"exchange", "instrument", "stream", "outcome"},
	)
	emitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_emitted_total",
			Help: "Records handed to sinks",
		},
		[]string{"exchange", "instrument", "stream"},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_sink_errors_total",
			Help: "Failed sink inserts",
		},
		[]string{"sink", "stream"},
	)
	sequence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketfeed_sequence",
			Help: "Latest emitted sequence number",
		},
		[]string{"exchange", "instrument", "stream"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketfeed_cycle_duration_seconds",
			Help:    "Duration of polling cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exchange", "stream"},
	)
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry.MustRegister(cycles, emitted, sinkErrors, sequence, cycleDuration)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve runs a standalone metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "0.0.0.0:2112"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": addr}).Info("starting prometheus endpoint")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveCycle records the outcome of one polling cycle.
func ObserveCycle(exchange, instrument, stream, outcome string, records int, d time.Duration) {
	Init()
	cycles.WithLabelValues(exchange, instrument, stream, outcome).Inc()
	if records > 0 {
		emitted.WithLabelValues(exchange, instrument, stream).Add(float64(records))
	}
	cycleDuration.WithLabelValues(exchange, stream).Observe(d.Seconds())
}

// SetSequence publishes the latest sequence of a stream.
func SetSequence(exchange, instrument, stream string, seq int64) {
	Init()
	sequence.WithLabelValues(exchange, instrument, stream).Set(float64(seq))
}

// IncSinkError counts a failed insert.
func IncSinkError(sink, stream string) {
	Init()
	sinkErrors.WithLabelValues(sink, stream).Inc()
}
