package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/sirupsen/logrus"
)

const DefaultCapacity = 64

// Bus carries pipeline events to a single reporter goroutine through a
// bounded channel. Droppable events are discarded when the channel is full;
// every other event waits for room.
type Bus struct {
	reporter domain.StatusReporter
	ch       chan domain.Event
	log      *logrus.Entry

	dropped atomic.Int64
	started atomic.Bool

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewBus(reporter domain.StatusReporter, capacity int, log *logrus.Entry) *Bus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		reporter: reporter,
		ch:       make(chan domain.Event, capacity),
		log:      log,
		done:     make(chan struct{}),
	}
}

// Run consumes events until Close is called and the channel is drained.
func (b *Bus) Run(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	defer close(b.done)

	for ev := range b.ch {
		if b.reporter == nil {
			continue
		}
		b.report(ctx, ev)
	}
}

func (b *Bus) report(ctx context.Context, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Error("status reporter panicked")
		}
	}()
	b.reporter.Report(ctx, ev)
}

// Publish enqueues ev. It reports whether the event was accepted.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	if ev.Droppable() {
		select {
		case b.ch <- ev:
			return true
		default:
			b.dropped.Add(1)
			return false
		}
	}

	select {
	case b.ch <- ev:
		return true
	case <-ctx.Done():
		b.log.WithField("kind", ev.Kind).Debug("event not published, context done")
		return false
	}
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits for Run to drain the queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	if b.started.Load() {
		<-b.done
	}
}
