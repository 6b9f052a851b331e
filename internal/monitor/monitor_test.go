package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/risk"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 2} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count, "window keeps the newest samples")
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 2.0, s.Avg, 1e-9)

	h.RecordDuration(10 * time.Millisecond)
	assert.Equal(t, 10.0, h.Stats().Max)
}

func TestTimerRecords(t *testing.T) {
	m := NewSystemMetrics()
	NewTimer(m.ExecLatency).Stop()
	m.IncrementQueued()
	m.IncrementQueued()
	snap := m.GetSnapshot()
	assert.Equal(t, 1, snap.ExecLatency.Count)
	assert.EqualValues(t, 2, snap.OrdersQueued)
	assert.Positive(t, snap.GoroutineCount)
}

func TestMonitorCountersFromBus(t *testing.T) {
	bus := events.NewBus()
	m := &Monitor{Bus: bus, Metrics: NewSystemMetrics(), Sink: AlertFunc(func(string) error { return nil })}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventOrderFilled, struct{}{})
	bus.Publish(events.EventOrderRejected, struct{}{})
	require.Eventually(t, func() bool {
		s := m.Metrics.GetSnapshot()
		return s.Fills == 1 && s.OrdersRejected == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorDeduplicatesAlerts(t *testing.T) {
	var mu sync.Mutex
	var alerts []string
	m := &Monitor{
		Bus: events.NewBus(),
		Sink: AlertFunc(func(s string) error {
			mu.Lock()
			alerts = append(alerts, s)
			mu.Unlock()
			return nil
		}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	ev := risk.BlockEvent{Reason: "max drawdown exceeded", DrawdownRatio: decimal.RequireFromString("0.3"), Time: time.Now()}
	m.handle(events.Envelope{Topic: events.EventRiskBlocked, Payload: ev})
	ev.Time = ev.Time.Add(time.Second)
	m.handle(events.Envelope{Topic: events.EventRiskBlocked, Payload: ev})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "max drawdown exceeded")
	assert.Contains(t, alerts[0], "0.3000")
}
