package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks execution-core performance.
type SystemMetrics struct {
	// Latency histograms
	QueueLatency *LatencyHistogram // submit -> worker dequeue
	ExecLatency  *LatencyHistogram // executor hand-off
	RiskLatency  *LatencyHistogram
	DBLatency    *LatencyHistogram // batch commit
	APILatency   *LatencyHistogram

	// Counters
	ordersQueued     atomic.Uint64
	ordersDispatched atomic.Uint64
	ordersRejected   atomic.Uint64
	fills            atomic.Uint64
	ticksProcessed   atomic.Uint64
	candlesEmitted   atomic.Uint64
	signalsReceived  atomic.Uint64
	errorsCount      atomic.Uint64
	apiRequests      atomic.Uint64
	apiErrors        atomic.Uint64
}

// LatencyHistogram keeps the last N samples in a ring and caches the
// derived stats until the next sample.
type LatencyHistogram struct {
	mu     sync.Mutex
	ring   []float64
	next   int
	filled bool
	stale  bool
	cached LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		QueueLatency: NewLatencyHistogram(1000),
		ExecLatency:  NewLatencyHistogram(1000),
		RiskLatency:  NewLatencyHistogram(1000),
		DBLatency:    NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram keeps the last size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size), stale: true}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	h.ring[h.next] = latencyMs
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.filled = true
	}
	h.stale = true
	h.mu.Unlock()
}

// RecordDuration records d in milliseconds.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stale {
		return h.cached
	}

	n := h.next
	if h.filled {
		n = len(h.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), h.ring[:n]...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	pct := func(p float64) float64 { return sorted[min(int(float64(n)*p), n-1)] }
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
		Count: n,
	}
	h.stale = false
	return h.cached
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementQueued()     { m.ordersQueued.Add(1) }
func (m *SystemMetrics) IncrementDispatched() { m.ordersDispatched.Add(1) }
func (m *SystemMetrics) IncrementRejected()   { m.ordersRejected.Add(1) }
func (m *SystemMetrics) IncrementFills()      { m.fills.Add(1) }
func (m *SystemMetrics) IncrementTicks()      { m.ticksProcessed.Add(1) }
func (m *SystemMetrics) IncrementCandles()    { m.candlesEmitted.Add(1) }
func (m *SystemMetrics) IncrementSignals()    { m.signalsReceived.Add(1) }
func (m *SystemMetrics) IncrementErrors()     { m.errorsCount.Add(1) }
func (m *SystemMetrics) IncrementAPI()        { m.apiRequests.Add(1) }
func (m *SystemMetrics) IncrementAPIErrors()  { m.apiErrors.Add(1) }

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	QueueLatency     LatencyStats `json:"queue_latency"`
	ExecLatency      LatencyStats `json:"exec_latency"`
	RiskLatency      LatencyStats `json:"risk_latency"`
	DBLatency        LatencyStats `json:"db_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	OrdersQueued     uint64       `json:"orders_queued"`
	OrdersDispatched uint64       `json:"orders_dispatched"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	Fills            uint64       `json:"fills"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	CandlesEmitted   uint64       `json:"candles_emitted"`
	SignalsReceived  uint64       `json:"signals_received"`
	ErrorsCount      uint64       `json:"errors_count"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		QueueLatency:     m.QueueLatency.Stats(),
		ExecLatency:      m.ExecLatency.Stats(),
		RiskLatency:      m.RiskLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		OrdersQueued:     m.ordersQueued.Load(),
		OrdersDispatched: m.ordersDispatched.Load(),
		OrdersRejected:   m.ordersRejected.Load(),
		Fills:            m.fills.Load(),
		TicksProcessed:   m.ticksProcessed.Load(),
		CandlesEmitted:   m.candlesEmitted.Load(),
		SignalsReceived:  m.signalsReceived.Load(),
		ErrorsCount:      m.errorsCount.Load(),
		APIRequests:      m.apiRequests.Load(),
		APIErrors:        m.apiErrors.Load(),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
