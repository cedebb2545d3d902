// Package eventbus delivers events to subscribers asynchronously on a single
// consumer goroutine, so events reach every subscriber in publish order.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/zwiftmon/internal/core"
	"firestige.xyz/zwiftmon/internal/log"
)

// EventBus is the publish side seen by producers.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic, name string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// InMemoryEventBus queues events in a bounded channel. Publish never blocks:
// when the queue is full the event is dropped and counted.
type InMemoryEventBus struct {
	queue       chan *Event
	subscribers map[string][]subscriber
	mu          sync.RWMutex
	closed      int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger log.Logger

	// counters
	publishedCount int64
	processedCount int64
	droppedCount   int64
	failedCount    int64
}

// NewInMemoryEventBus starts a bus with the given queue capacity.
func NewInMemoryEventBus(queueSize int) *InMemoryEventBus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &InMemoryEventBus{
		queue:       make(chan *Event, queueSize),
		subscribers: make(map[string][]subscriber),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.GetLogger().WithField(core.FieldComponent, "eventbus"),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish enqueues an event for delivery.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return ErrClosed
	}

	select {
	case b.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		atomic.AddInt64(&b.droppedCount, 1)
		return fmt.Errorf("%w: topic %s", ErrQueueFull, event.Topic)
	}
}

// Subscribe appends a handler to topic. Handlers of a topic run in the
// order they were subscribed.
func (b *InMemoryEventBus) Subscribe(topic, name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atomic.LoadInt32(&b.closed) == 1 {
		return ErrClosed
	}

	b.subscribers[topic] = append(b.subscribers[topic], subscriber{name: name, handler: handler})
	b.logger.Debugf("Subscribed %s to topic: %s", name, topic)
	return nil
}

// Close stops delivery. Queued events are discarded; once Close returns no
// handler is running or will run.
func (b *InMemoryEventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}

	b.cancel()
	b.wg.Wait()

	discarded := 0
	for len(b.queue) > 0 {
		<-b.queue
		discarded++
	}
	if discarded > 0 {
		atomic.AddInt64(&b.droppedCount, int64(discarded))
	}

	b.logger.WithField("discarded", discarded).Debug("Event bus closed")
	return nil
}

// Drain blocks until every accepted event has been handled, the bus is
// closed, or ctx is done.
func (b *InMemoryEventBus) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt32(&b.closed) == 1 {
			return ErrClosed
		}
		if atomic.LoadInt64(&b.processedCount) >= atomic.LoadInt64(&b.publishedCount) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetStats returns current counters.
func (b *InMemoryEventBus) GetStats() *Stats {
	return &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		DroppedCount:   atomic.LoadInt64(&b.droppedCount),
		FailedCount:    atomic.LoadInt64(&b.failedCount),
		QueuedCount:    len(b.queue),
	}
}

func (b *InMemoryEventBus) handlers(topic string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers[topic]
}

// run is the only consumer of the queue.
func (b *InMemoryEventBus) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case event := <-b.queue:
			if b.ctx.Err() != nil {
				return
			}
			b.deliver(event)
			atomic.AddInt64(&b.processedCount, 1)
		}
	}
}

func (b *InMemoryEventBus) deliver(event *Event) {
	for _, s := range b.handlers(event.Topic) {
		if err := b.call(s, event); err != nil {
			atomic.AddInt64(&b.failedCount, 1)
			b.logger.WithError(err).
				WithField("subscriber", s.name).
				WithField("topic", event.Topic).
				Error("Failed to handle event")
		}
	}
}

func (b *InMemoryEventBus) call(s subscriber, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(event)
}
