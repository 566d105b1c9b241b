package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingReporter struct {
	mu     sync.Mutex
	events []domain.Event
	gate   chan struct{}
}

func (c *collectingReporter) Report(ctx context.Context, ev domain.Event) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectingReporter) snapshot() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func TestBus_DeliversInOrder(t *testing.T) {
	rep := &collectingReporter{}
	bus := NewBus(rep, 4, nil)
	go bus.Run(context.Background())

	for i := 0; i < 10; i++ {
		require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventSegment, Segment: i}))
	}
	bus.Close()

	got := rep.snapshot()
	require.Len(t, got, 10)
	for i, ev := range got {
		assert.Equal(t, i, ev.Segment)
		assert.False(t, ev.At.IsZero())
	}
}

func TestBus_DropsProgressWhenFull(t *testing.T) {
	rep := &collectingReporter{gate: make(chan struct{})}
	bus := NewBus(rep, 2, nil)
	go bus.Run(context.Background())

	// The consumer holds one event at the gate; two more fill the channel.
	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventState}))
	require.Eventually(t, func() bool { return len(bus.ch) == 0 }, time.Second, time.Millisecond)
	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventProgress}))
	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventProgress}))

	assert.False(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventProgress}))
	assert.Equal(t, int64(1), bus.Dropped())

	close(rep.gate)
	bus.Close()
	assert.Len(t, rep.snapshot(), 3)
}

func TestBus_LifecycleEventWaitsForRoom(t *testing.T) {
	rep := &collectingReporter{gate: make(chan struct{})}
	bus := NewBus(rep, 1, nil)
	go bus.Run(context.Background())

	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventState}))
	require.Eventually(t, func() bool { return len(bus.ch) == 0 }, time.Second, time.Millisecond)
	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventState}))

	published := make(chan bool, 1)
	go func() {
		published <- bus.Publish(context.Background(), domain.Event{Kind: domain.EventFinished})
	}()

	select {
	case <-published:
		t.Fatalf("lifecycle event should block while the channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(rep.gate)
	assert.True(t, <-published)

	bus.Close()
	assert.Len(t, rep.snapshot(), 3)
}

func TestBus_LifecycleEventGivesUpOnContext(t *testing.T) {
	bus := NewBus(nil, 1, nil)

	require.True(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventState}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, bus.Publish(ctx, domain.Event{Kind: domain.EventState}))
}

func TestBus_PublishAfterCloseIsRejected(t *testing.T) {
	bus := NewBus(&collectingReporter{}, 1, nil)
	go bus.Run(context.Background())
	bus.Close()
	bus.Close()

	assert.False(t, bus.Publish(context.Background(), domain.Event{Kind: domain.EventState}))
}

type panickingReporter struct {
	calls int
}

func (p *panickingReporter) Report(ctx context.Context, ev domain.Event) {
	p.calls++
	panic("reporter bug")
}

func TestBus_ReporterPanicDoesNotStopConsumer(t *testing.T) {
	rep := &panickingReporter{}
	bus := NewBus(rep, 4, nil)
	go bus.Run(context.Background())

	bus.Publish(context.Background(), domain.Event{Kind: domain.EventState})
	bus.Publish(context.Background(), domain.Event{Kind: domain.EventState})
	bus.Close()

	assert.Equal(t, 2, rep.calls)
}
