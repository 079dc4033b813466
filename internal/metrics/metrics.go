// Package metrics holds the Prometheus instruments, the health status
// document and the dedicated metrics listener.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every Prometheus instrument for the router.
type Metrics struct {
	EventsIngested *prometheus.CounterVec // labels: venue, kind
	IngestDrops    prometheus.Counter
	Reconnects     *prometheus.CounterVec // labels: venue
	KlinesTotal    prometheus.Counter

	WSClients     prometheus.Gauge
	FramesSent    *prometheus.CounterVec // labels: stream
	FramesDropped *prometheus.CounterVec // labels: stream
	FanoutLatency prometheus.Histogram

	OrdersPlaced    prometheus.Counter
	OrdersFilled    prometheus.Counter
	OrdersCancelled prometheus.Counter
	OrdersRejected  prometheus.Counter

	SnapshotWrites prometheus.Counter
	SnapshotErrors prometheus.Counter

	MirrorPublished prometheus.Counter
	MirrorDropped   prometheus.Counter
	MirrorBuffered  prometheus.Counter
}

// New registers and returns all instruments.
func New() *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedrouter_events_ingested_total",
			Help: "Normalized feed events ingested",
		}, []string{"venue", "kind"}),
		IngestDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_ingest_drops_total",
			Help: "Feed events dropped because the event channel was full",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedrouter_venue_reconnects_total",
			Help: "Venue session reconnect attempts",
		}, []string{"venue"}),
		KlinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_klines_published_total",
			Help: "Candle updates published",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedrouter_ws_clients",
			Help: "Connected websocket clients",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedrouter_ws_frames_sent_total",
			Help: "Frames enqueued to websocket clients",
		}, []string{"stream"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedrouter_ws_frames_dropped_total",
			Help: "Frames dropped on full client send buffers",
		}, []string{"stream"}),
		FanoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedrouter_fanout_latency_seconds",
			Help:    "Hub fan-out pass duration",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_orders_placed_total",
			Help: "Limit orders accepted",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_orders_filled_total",
			Help: "Orders filled against the best touch",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_orders_cancelled_total",
			Help: "Orders cancelled",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_orders_rejected_total",
			Help: "Order placements rejected",
		}),

		SnapshotWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_snapshot_writes_total",
			Help: "State snapshot writes",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_snapshot_errors_total",
			Help: "State snapshot write failures",
		}),

		MirrorPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_mirror_published_total",
			Help: "Events published to the Redis mirror",
		}),
		MirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_mirror_dropped_total",
			Help: "Mirror events dropped (queue full or breaker open)",
		}),
		MirrorBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedrouter_mirror_buffered_total",
			Help: "Closed candles buffered while the mirror breaker was open",
		}),
	}

	prometheus.MustRegister(
		m.EventsIngested,
		m.IngestDrops,
		m.Reconnects,
		m.KlinesTotal,
		m.WSClients,
		m.FramesSent,
		m.FramesDropped,
		m.FanoutLatency,
		m.OrdersPlaced,
		m.OrdersFilled,
		m.OrdersCancelled,
		m.OrdersRejected,
		m.SnapshotWrites,
		m.SnapshotErrors,
		m.MirrorPublished,
		m.MirrorDropped,
		m.MirrorBuffered,
	)
	return m
}

// HealthStatus tracks per-venue liveness and snapshot health for the
// /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	venueLive     map[string]bool
	lastEventTime time.Time
	snapshotOK    bool
	startedAt     time.Time

	latency *LatencyTracker
}

// NewHealthStatus creates a health document over the given venues.
func NewHealthStatus(venues []string, latency *LatencyTracker) *HealthStatus {
	live := make(map[string]bool, len(venues))
	for _, v := range venues {
		live[v] = false
	}
	return &HealthStatus{
		venueLive:  live,
		snapshotOK: true,
		startedAt:  time.Now(),
		latency:    latency,
	}
}

// SetVenueLive flags a venue connected or disconnected.
func (h *HealthStatus) SetVenueLive(venue string, live bool) {
	h.mu.Lock()
	h.venueLive[venue] = live
	h.mu.Unlock()
}

// MarkEvent records that a feed event arrived.
func (h *HealthStatus) MarkEvent() {
	h.mu.Lock()
	h.lastEventTime = time.Now()
	h.mu.Unlock()
}

// SetSnapshotOK records the outcome of the last snapshot write.
func (h *HealthStatus) SetSnapshotOK(ok bool) {
	h.mu.Lock()
	h.snapshotOK = ok
	h.mu.Unlock()
}

// ServeHTTP answers /healthz. Degraded when any venue is down or the
// last snapshot write failed.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	venues := make(map[string]bool, len(h.venueLive))
	allLive := true
	for v, live := range h.venueLive {
		venues[v] = live
		if !live {
			allLive = false
		}
	}
	lastEvent := h.lastEventTime
	snapshotOK := h.snapshotOK
	started := h.startedAt
	h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !allLive || !snapshotOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !lastEvent.IsZero() {
		eventAge = time.Since(lastEvent).Round(time.Millisecond).String()
	}

	var p50, p95, p99 float64
	if h.latency != nil {
		p50, p95, p99 = h.latency.Percentiles()
	}

	doc := struct {
		Status        string          `json:"status"`
		Uptime        string          `json:"uptime"`
		Venues        map[string]bool `json:"venues"`
		LastEventTime string          `json:"last_event_time"`
		EventAge      string          `json:"event_age"`
		SnapshotOK    bool            `json:"snapshot_ok"`
		FanoutP50Ms   float64         `json:"fanout_p50_ms"`
		FanoutP95Ms   float64         `json:"fanout_p95_ms"`
		FanoutP99Ms   float64         `json:"fanout_p99_ms"`
	}{
		Status:        status,
		Uptime:        time.Since(started).Round(time.Second).String(),
		Venues:        venues,
		LastEventTime: lastEvent.Format(time.RFC3339),
		EventAge:      eventAge,
		SnapshotOK:    snapshotOK,
		FanoutP50Ms:   p50,
		FanoutP95Ms:   p95,
		FanoutP99Ms:   p99,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(doc)
}

// Server exposes /metrics and /healthz on a dedicated listener.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer builds the metrics server.
func NewServer(addr string, health *HealthStatus, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log,
	}
}

// Start launches the listener in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
