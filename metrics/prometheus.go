package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange metrics collector. Domain packages stay metrics-free; the
// daemon wires the collector into their hooks (OnMatch, OnAlarm, OnDrop,
// OnTick) at startup, and the API layer records its own request metrics.

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all exchange metrics
type Collector struct {
	// Order metrics
	OrdersTotal  *prometheus.CounterVec
	OrderLatency *prometheus.HistogramVec

	// Matching engine metrics
	MatchingLatency *prometheus.HistogramVec
	OrderbookDepth  *prometheus.GaugeVec

	// Trade metrics
	TradesTotal *prometheus.CounterVec
	TradeVolume *prometheus.CounterVec
	TradeValue  *prometheus.CounterVec

	// Ledger metrics
	InvariantAlarms prometheus.Counter
	JournalEntries  *prometheus.CounterVec

	// Bus metrics
	SubscriberDrops *prometheus.CounterVec

	// Simulator metrics
	SimTicksTotal *prometheus.CounterVec

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	RateLimitHits     prometheus.Counter

	// System metrics
	RegisteredUsers prometheus.Gauge
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

// newCollector creates a new metrics collector
func newCollector() *Collector {
	c := &Collector{}

	// Order metrics
	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders submitted",
		},
		[]string{"symbol", "side", "type", "status"},
	)

	c.OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "orders",
			Name:      "latency_ms",
			Help:      "Order submission latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"symbol", "type"},
	)

	// Matching engine metrics
	c.MatchingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Matching engine latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"symbol"},
	)

	c.OrderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "orderbook",
			Name:      "depth",
			Help:      "Orderbook depth (number of price levels)",
		},
		[]string{"symbol", "side"},
	)

	// Trade metrics
	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Total number of trades executed",
		},
		[]string{"symbol"},
	)

	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "trades",
			Name:      "volume",
			Help:      "Total trading volume (in base asset)",
		},
		[]string{"symbol"},
	)

	c.TradeValue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "trades",
			Name:      "value_quote",
			Help:      "Total trading value in quote currency",
		},
		[]string{"symbol"},
	)

	// Ledger metrics
	c.InvariantAlarms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "ledger",
			Name:      "invariant_alarms_total",
			Help:      "Total ledger invariant alarms (clamped unfreezes, aborted settlements)",
		},
	)

	c.JournalEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "ledger",
			Name:      "journal_entries_total",
			Help:      "Total journal entries appended",
		},
		[]string{"kind"},
	)

	// Bus metrics
	c.SubscriberDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "bus",
			Name:      "subscriber_drops_total",
			Help:      "Subscribers dropped for falling behind the queue limit",
		},
		[]string{"topic_kind"},
	)

	// Simulator metrics
	c.SimTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "simulator",
			Name:      "ticks_total",
			Help:      "Synthetic producer ticks",
		},
		[]string{"kind"},
	)

	// WebSocket metrics
	c.WSConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Number of active WebSocket connections",
		},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total WebSocket messages sent",
		},
		[]string{"channel"},
	)

	// API metrics
	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "api",
			Name:      "request_latency_ms",
			Help:      "API request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "path"},
	)

	c.RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	// System metrics
	c.RegisteredUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "system",
			Name:      "registered_users",
			Help:      "Number of registered users",
		},
	)

	// Register all metrics
	c.registerAll()

	return c
}

// registerAll registers all metrics with Prometheus
func (c *Collector) registerAll() {
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.OrderLatency)

	prometheus.MustRegister(c.MatchingLatency)
	prometheus.MustRegister(c.OrderbookDepth)

	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)
	prometheus.MustRegister(c.TradeValue)

	prometheus.MustRegister(c.InvariantAlarms)
	prometheus.MustRegister(c.JournalEntries)

	prometheus.MustRegister(c.SubscriberDrops)
	prometheus.MustRegister(c.SimTicksTotal)

	prometheus.MustRegister(c.WSConnectionsActive)
	prometheus.MustRegister(c.WSMessagesTotal)

	prometheus.MustRegister(c.APIRequestsTotal)
	prometheus.MustRegister(c.APIRequestLatency)
	prometheus.MustRegister(c.RateLimitHits)

	prometheus.MustRegister(c.RegisteredUsers)
}

// ============ Recording Helpers ============

// RecordOrder records an order submission outcome
func (c *Collector) RecordOrder(symbol, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(symbol, side, orderType, status).Inc()
}

// RecordOrderLatency records order submission latency
func (c *Collector) RecordOrderLatency(symbol, orderType string, latencyMs float64) {
	c.OrderLatency.WithLabelValues(symbol, orderType).Observe(latencyMs)
}

// RecordMatch records one engine pass
func (c *Collector) RecordMatch(symbol string, trades int, elapsed time.Duration) {
	c.MatchingLatency.WithLabelValues(symbol).Observe(float64(elapsed.Microseconds()) / 1000.0)
	if trades > 0 {
		c.TradesTotal.WithLabelValues(symbol).Add(float64(trades))
	}
}

// RecordTrade records an execution's volume and value
func (c *Collector) RecordTrade(symbol string, volume, value float64) {
	c.TradeVolume.WithLabelValues(symbol).Add(volume)
	c.TradeValue.WithLabelValues(symbol).Add(value)
}

// RecordBookDepth sets the per-side level counts
func (c *Collector) RecordBookDepth(symbol string, bidLevels, askLevels int) {
	c.OrderbookDepth.WithLabelValues(symbol, "buy").Set(float64(bidLevels))
	c.OrderbookDepth.WithLabelValues(symbol, "sell").Set(float64(askLevels))
}

// RecordSubscriberDrop records a dropped slow subscriber. The topic is
// reduced to its kind ("book.BTC/USDT" → "book") to bound cardinality.
func (c *Collector) RecordSubscriberDrop(topic string) {
	kind := topic
	if i := strings.IndexByte(topic, '.'); i > 0 {
		kind = topic[:i]
	}
	c.SubscriberDrops.WithLabelValues(kind).Inc()
}

// RecordAPIRequest records an API request
func (c *Collector) RecordAPIRequest(method, path, status string, latencyMs float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(latencyMs)
}

// RecordWSConnection records WebSocket connection changes
func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnectionsActive.Add(float64(delta))
}

// RecordWSMessage records a WebSocket message sent on a channel
func (c *Collector) RecordWSMessage(channel string) {
	c.WSMessagesTotal.WithLabelValues(channel).Inc()
}

// ============ HTTP Handler ============

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for measuring latency
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
