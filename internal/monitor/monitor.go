package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"execution-core/internal/events"
)

var log = logrus.WithField("component", "monitor")

// Monitor watches the bus, feeds counters and turns risk events into alerts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SystemMetrics

	// MinAlertGap suppresses repeats of the same alert text.
	MinAlertGap time.Duration
	last        map[string]time.Time
}

var watched = []events.Event{
	events.EventRiskBlocked,
	events.EventRiskCleared,
	events.EventOrderRejected,
	events.EventOrderFilled,
	events.EventCandle,
}

// Start subscribes and returns immediately; the loop ends with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Warn("monitor not configured; skipping")
		return
	}
	if m.Sink == nil {
		m.Sink = LogSink{}
	}
	if m.MinAlertGap <= 0 {
		m.MinAlertGap = time.Minute
	}
	m.last = make(map[string]time.Time)
	stream, unsub := m.Bus.SubscribeAll(watched, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env)
			}
		}
	}()
}

func (m *Monitor) handle(env events.Envelope) {
	switch env.Topic {
	case events.EventOrderRejected:
		if m.Metrics != nil {
			m.Metrics.IncrementRejected()
		}
	case events.EventOrderFilled:
		if m.Metrics != nil {
			m.Metrics.IncrementFills()
		}
	case events.EventCandle:
		if m.Metrics != nil {
			m.Metrics.IncrementCandles()
		}
	case events.EventRiskBlocked, events.EventRiskCleared:
		m.alert(formatAlert(env.Topic, env.Payload))
	}
}

func (m *Monitor) alert(msg string) {
	now := time.Now()
	if t, ok := m.last[msg]; ok && now.Sub(t) < m.MinAlertGap {
		return
	}
	m.last[msg] = now
	if err := m.Sink.Send(msg); err != nil {
		log.Warnf("alert delivery failed: %v", err)
	}
}

func formatAlert(topic events.Event, payload any) string {
	switch t := payload.(type) {
	case string:
		return fmt.Sprintf("[%s] %s", topic, t)
	case fmt.Stringer:
		return fmt.Sprintf("[%s] %s", topic, t.String())
	default:
		return fmt.Sprintf("[%s] %+v", topic, payload)
	}
}
