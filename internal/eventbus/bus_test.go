package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handler(prefix string) Handler {
	return func(e *Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, prefix+":"+e.Payload.(string))
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestPublishOrderAcrossSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus(64)
	defer bus.Close()

	rec := &recorder{}
	require.NoError(t, bus.Subscribe("inbound", "a", rec.handler("a")))
	require.NoError(t, bus.Subscribe("inbound", "b", rec.handler("b")))
	require.NoError(t, bus.Subscribe("outbound", "c", rec.handler("c")))

	require.NoError(t, bus.Publish(&Event{Topic: "inbound", Payload: "1"}))
	require.NoError(t, bus.Publish(&Event{Topic: "outbound", Payload: "2"}))
	require.NoError(t, bus.Publish(&Event{Topic: "inbound", Payload: "3"}))
	require.NoError(t, bus.Publish(&Event{Topic: "nobody", Payload: "4"}))

	assert.Eventually(t, func() bool {
		return bus.GetStats().ProcessedCount == 4
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a:1", "b:1", "c:2", "a:3", "b:3"}, rec.snapshot())
}

func TestPublishIsAsynchronous(t *testing.T) {
	bus := NewInMemoryEventBus(8)
	defer bus.Close()

	release := make(chan struct{})
	delivered := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe("t", "slow", func(*Event) error {
		<-release
		delivered <- struct{}{}
		return nil
	}))

	start := time.Now()
	require.NoError(t, bus.Publish(&Event{Topic: "t"}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewInMemoryEventBus(1)
	defer bus.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, bus.Subscribe("t", "blocker", func(*Event) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}))

	require.NoError(t, bus.Publish(&Event{Topic: "t"}))
	<-started
	require.NoError(t, bus.Publish(&Event{Topic: "t"}))

	err := bus.Publish(&Event{Topic: "t"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), bus.GetStats().DroppedCount)

	close(block)
}

func TestHandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(8)
	defer bus.Close()

	rec := &recorder{}
	require.NoError(t, bus.Subscribe("t", "fails", func(*Event) error { return errors.New("nope") }))
	require.NoError(t, bus.Subscribe("t", "panics", func(*Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe("t", "ok", rec.handler("ok")))

	require.NoError(t, bus.Publish(&Event{Topic: "t", Payload: "x"}))
	require.NoError(t, bus.Publish(&Event{Topic: "t", Payload: "y"}))

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ok:x", "ok:y"}, rec.snapshot())
	assert.Equal(t, int64(4), bus.GetStats().FailedCount)
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(16)

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	rec := &recorder{}
	require.NoError(t, bus.Subscribe("t", "gate", func(*Event) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}))
	require.NoError(t, bus.Subscribe("t", "rec", rec.handler("r")))

	require.NoError(t, bus.Publish(&Event{Topic: "t", Payload: "1"}))
	<-started
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(&Event{Topic: "t", Payload: "queued"}))
	}

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, bus.Close())
		close(closed)
	}()
	require.Eventually(t, func() bool { return bus.ctx.Err() != nil }, time.Second, time.Millisecond)
	close(block)
	<-closed

	// The in-flight event finishes; queued ones are discarded.
	assert.Equal(t, []string{"r:1"}, rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"r:1"}, rec.snapshot())
	assert.Equal(t, 0, bus.GetStats().QueuedCount)

	assert.ErrorIs(t, bus.Publish(&Event{Topic: "t"}), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe("t", "late", rec.handler("late")), ErrClosed)
	assert.NoError(t, bus.Close())
}

func TestDrain(t *testing.T) {
	bus := NewInMemoryEventBus(64)

	rec := &recorder{}
	require.NoError(t, bus.Subscribe("t", "slowish", func(e *Event) error {
		time.Sleep(time.Millisecond)
		return rec.handler("s")(e)
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(&Event{Topic: "t", Payload: "x"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Drain(ctx))
	assert.Len(t, rec.snapshot(), 10)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Drain(ctx), ErrClosed)
}
