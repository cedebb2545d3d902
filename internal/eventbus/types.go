package eventbus

import "errors"

var (
	ErrClosed    = errors.New("eventbus: closed")
	ErrQueueFull = errors.New("eventbus: queue full")
)

// Event is one queued delivery.
type Event struct {
	Topic   string `json:"topic"`
	Key     string `json:"key"` // flow identity, informational
	Payload any    `json:"payload"`
}

// Handler consumes an event. A returned error is logged and counted.
type Handler func(event *Event) error

// subscriber is a named handler registered on a topic.
type subscriber struct {
	name    string
	handler Handler
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	DroppedCount   int64
	FailedCount    int64
	QueuedCount    int
}
