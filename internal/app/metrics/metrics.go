package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	leadClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "lead_claims_total",
			Help:      "Lead claim attempts by outcome.",
		},
		[]string{"result"},
	)

	escrowShips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "escrow_ships_total",
			Help:      "Project shipments by outcome.",
		},
		[]string{"result"},
	)

	shipDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "escrow",
			Name:      "ship_duration_seconds",
			Help:      "Duration of the shipment transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	commissionPayout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Name:      "commission_payout_cents_total",
			Help:      "Commission paid out in minor units, by kind.",
		},
		[]string{"kind"},
	)

	leadsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Name:      "leads_by_status",
			Help:      "Number of leads in each pipeline status.",
		},
		[]string{"status"},
	)

	escrowHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Name:      "escrow_held_cents",
			Help:      "Escrow balance currently held, in minor units.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		leadClaims,
		escrowShips,
		shipDuration,
		commissionPayout,
		leadsByStatus,
		escrowHeld,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLeadClaim counts a claim attempt. result is one of claimed,
// conflict, capacity or error.
func RecordLeadClaim(result string) {
	if result == "" {
		result = "unknown"
	}
	leadClaims.WithLabelValues(result).Inc()
}

// RecordShip counts a shipment and observes its duration.
func RecordShip(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	escrowShips.WithLabelValues(result).Inc()
	shipDuration.Observe(duration.Seconds())
}

// RecordPayout adds released commission amounts.
func RecordPayout(direct, override int64) {
	if direct > 0 {
		commissionPayout.WithLabelValues("direct").Add(float64(direct))
	}
	if override > 0 {
		commissionPayout.WithLabelValues("override").Add(float64(override))
	}
}

// SetLeadCounts replaces the per-status lead gauges.
func SetLeadCounts(counts map[string]int) {
	leadsByStatus.Reset()
	for status, n := range counts {
		leadsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// SetEscrowHeld records the total escrow still held.
func SetEscrowHeld(cents int64) {
	escrowHeld.Set(float64(cents))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /leads/abc/claim becomes /leads/:id/claim.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 {
		switch parts[0] {
		case "leads", "projects", "commissioners", "developers":
			parts[1] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
