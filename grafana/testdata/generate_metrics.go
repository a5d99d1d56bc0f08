// Command generate_metrics serves sample triaged metrics for testing
// Grafana dashboards without pointing them at a real mailbox.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for testing dashboards. Names and labels mirror the daemon's
// instrumentation in internal/metrics.
var (
	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triaged_sync_cycles_total",
			Help: "Total number of sync cycles",
		},
		[]string{"result"},
	)
	syncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triaged_sync_cycle_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	syncEmails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triaged_sync_emails_total",
			Help: "Total number of emails handled by sync cycles",
		},
		[]string{"outcome"},
	)
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triaged_triage_decisions_total",
			Help: "Total number of recorded triage decisions",
		},
		[]string{"source", "verdict"},
	)
	mailboxActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triaged_mail_mailbox_actions_total",
			Help: "Total number of mailbox actions applied to discarded emails",
		},
		[]string{"action", "result"},
	)
	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triaged_query_duration_seconds",
			Help:    "Duration of answer generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
	queryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triaged_query_attempts",
			Help:    "Generation attempts per answered question",
			Buckets: []float64{1, 2, 3},
		},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triaged_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		syncCycles,
		syncCycleDuration,
		syncEmails,
		decisions,
		mailboxActions,
		queryDuration,
		queryAttempts,
		httpRequestDuration,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'triaged-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

var (
	outcomes = []string{"decided", "decided", "decided", "skipped", "failed", "redelivered"}
	verdicts = []string{"keep", "discard"}
	actions  = []string{"archive", "trash"}
	paths    = []string{"/query", "/health", "/decisions/pending", "/decisions/:id/confirm", "/decisions/:id/correct", "/emails/:id"}
	statuses = []string{"200", "200", "200", "400", "404", "500"}
)

func generateSampleData() {
	// A day's worth of 5-minute sync cycles
	for i := 0; i < 288; i++ {
		result := "success"
		if rand.Float64() > 0.97 {
			result = "error"
		}
		syncCycles.WithLabelValues(result).Inc()
		syncCycleDuration.Observe(rand.Float64() * 8.0)

		// Most cycles see a handful of emails
		for j := 0; j < rand.Intn(6); j++ {
			syncEmails.WithLabelValues(randomChoice(outcomes)).Inc()
			decisions.WithLabelValues("agent", randomChoice(verdicts)).Inc()
		}
	}

	// Occasional user confirmations and corrections
	for i := 0; i < 20; i++ {
		decisions.WithLabelValues("user", randomChoice(verdicts)).Inc()
	}

	for i := 0; i < 120; i++ {
		result := "success"
		if rand.Float64() > 0.95 {
			result = "error"
		}
		mailboxActions.WithLabelValues(randomChoice(actions), result).Inc()
	}

	for i := 0; i < 40; i++ {
		queryDuration.Observe(0.3 + rand.Float64()*4.0)
		queryAttempts.Observe(float64(rand.Intn(3) + 1))
	}

	for i := 0; i < 200; i++ {
		method := "GET"
		path := randomChoice(paths)
		if path == "/query" || path == "/decisions/:id/confirm" || path == "/decisions/:id/correct" {
			method = "POST"
		}
		if path == "/emails/:id" {
			method = "DELETE"
		}
		httpRequestDuration.WithLabelValues(method, path, randomChoice(statuses)).Observe(rand.Float64() * 0.5)
	}
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A sync cycle most ticks
			if rand.Float64() > 0.3 {
				syncCycles.WithLabelValues("success").Inc()
				syncCycleDuration.Observe(rand.Float64() * 8.0)
				for j := 0; j < rand.Intn(4); j++ {
					syncEmails.WithLabelValues(randomChoice(outcomes)).Inc()
					decisions.WithLabelValues("agent", randomChoice(verdicts)).Inc()
					if rand.Float64() > 0.6 {
						mailboxActions.WithLabelValues(randomChoice(actions), "success").Inc()
					}
				}
			}
			// Occasional query traffic
			if rand.Float64() > 0.7 {
				queryDuration.Observe(0.3 + rand.Float64()*4.0)
				queryAttempts.Observe(float64(rand.Intn(3) + 1))
				httpRequestDuration.WithLabelValues("POST", "/query", "200").Observe(rand.Float64() * 4.0)
			}
			// Review activity
			if rand.Float64() > 0.85 {
				decisions.WithLabelValues("user", randomChoice(verdicts)).Inc()
				httpRequestDuration.WithLabelValues("POST", "/decisions/:id/correct", "200").Observe(rand.Float64() * 0.2)
			}
			if rand.Float64() > 0.5 {
				httpRequestDuration.WithLabelValues("GET", "/health", "200").Observe(rand.Float64() * 0.02)
			}
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
