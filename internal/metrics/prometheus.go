// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transfa/peer-network-service/internal/domain"
	"github.com/transfa/peer-network-service/internal/resilience"
)

const namespace = "peer_network"

// Recorder owns a private registry so tests and multiple instances never collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	transfers     *prometheus.CounterVec
	riskScores    *prometheus.HistogramVec
	groupsCreated *prometheus.CounterVec
	peerMatches   prometheus.Histogram
	groupMatches  prometheus.Histogram
	breakerState  *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfers that reached a resting state, by status.",
	}, []string{"status"})
	r.riskScores = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Risk scores assigned to transfers, by decision.",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"decision"})
	r.groupsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "groups_created_total",
		Help:      "Peer groups created, by type and origin.",
	}, []string{"type", "automatic"})
	r.peerMatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "peer_matches",
		Help:      "Peer matches returned per request.",
		Buckets:   prometheus.LinearBuckets(0, 2, 11),
	})
	r.groupMatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "group_matches",
		Help:      "Group matches returned per request.",
		Buckets:   prometheus.LinearBuckets(0, 1, 6),
	})
	r.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Circuit breaker state per operation (0=closed, 1=open, 2=half_open).",
	}, []string{"operation"})
	r.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by route and status code.",
	}, []string{"method", "route", "status"})
	r.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	r.registry.MustRegister(
		r.transfers, r.riskScores, r.groupsCreated, r.peerMatches, r.groupMatches,
		r.breakerState, r.httpRequests, r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) TransferFinished(status domain.TransferStatus) {
	r.transfers.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RiskAssessed(decision domain.RiskDecision, score float64) {
	r.riskScores.WithLabelValues(string(decision)).Observe(score)
}

func (r *Recorder) GroupCreated(groupType domain.GroupType, automatic bool) {
	r.groupsCreated.WithLabelValues(string(groupType), strconv.FormatBool(automatic)).Inc()
}

func (r *Recorder) MatchesFound(peers, groups int) {
	r.peerMatches.Observe(float64(peers))
	r.groupMatches.Observe(float64(groups))
}

// BreakerHook reports circuit transitions; pass it to resilience.WithStateChangeHook.
func (r *Recorder) BreakerHook() resilience.StateChangeFunc {
	return func(operation string, _, to resilience.BreakerState) {
		r.breakerState.WithLabelValues(operation).Set(float64(to))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests by their chi route pattern to keep label cardinality bounded.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
