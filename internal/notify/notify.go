// Package notify fans fleet events out to webhooks, websocket subscribers
// and an optional Telegram chat.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is the envelope every sink receives.
type Event struct {
	Type string    `json:"event"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

const defaultQueueSize = 256

// Dispatcher queues events and delivers them from a single worker so
// Notify never blocks the caller. Events arriving while the queue is full
// are dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	dropped int
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, defaultQueueSize),
		timeout: timeout,
		now:     time.Now,
		logger:  logger.Named("notify"),
	}
}

func (d *Dispatcher) Notify(event string, payload any) {
	ev := Event{Type: event, At: d.now().UTC(), Data: payload}
	select {
	case d.queue <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn("notification queue full, dropping event", zap.String("event", event))
	}
}

// Dropped reports how many events were discarded on a full queue.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run delivers queued events until ctx is cancelled. Events still queued
// at cancellation are flushed with a fresh deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
		if err := s.Deliver(ctx, ev); err != nil {
			d.logger.Warn("deliver event",
				zap.String("sink", s.Name()),
				zap.String("event", ev.Type),
				zap.Error(err))
		}
		cancel()
	}
}

func eventAllowed(events []string, event string) bool {
	for _, e := range events {
		if e == "*" || strings.EqualFold(strings.TrimSpace(e), event) {
			return true
		}
	}
	return false
}
