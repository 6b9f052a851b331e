package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventMarkPrice      Event = "mark_price"
	EventCandle         Event = "candle"
	EventRiskBlocked    Event = "risk.blocked"
	EventRiskCleared    Event = "risk.cleared"
	EventPositionChange Event = "position_change"
	EventOrderQueued    Event = "order.queued"
	EventOrderRejected  Event = "order.rejected"
	EventOrderUpdate    Event = "order.update"
	EventOrderFilled    Event = "order.filled"
	EventStopParked     Event = "order.stop_parked"
)

// Topics lists every topic a stream consumer may subscribe to.
var Topics = []Event{
	EventMarkPrice,
	EventCandle,
	EventRiskBlocked,
	EventRiskCleared,
	EventPositionChange,
	EventOrderQueued,
	EventOrderRejected,
	EventOrderUpdate,
	EventOrderFilled,
	EventStopParked,
}

// Envelope tags a payload with its topic for consumers that merge several topics.
type Envelope struct {
	Topic   Event `json:"topic"`
	Payload any   `json:"payload"`
}
