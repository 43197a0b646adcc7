// Package metrics exposes Prometheus instrumentation for the pod controls and
// the HTTP listener that serves it.
package metrics

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicepods"

var (
	// Interactions counts dispatched panel interactions by action and outcome status.
	Interactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interactions_total",
		Help:      "Panel interactions by action and outcome status.",
	}, []string{"action", "status"})

	// PermissionWrites counts external writes issued by the permission writer.
	PermissionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_writes_total",
		Help:      "External permission and attribute writes by operation and result.",
	}, []string{"op", "result"})

	// ReclaimTransitions counts ownership reclaim handshake transitions.
	ReclaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaim_transitions_total",
		Help:      "Ownership reclaim transitions.",
	}, []string{"transition"})

	OpenVoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_voice_sessions",
		Help:      "Voice sessions currently being tracked.",
	})
)

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Serve runs the metrics and health endpoints until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("📈 Metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
