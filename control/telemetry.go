package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/hexapod/rangemapper/components/rangefinder"
	"github.com/hexapod/rangemapper/logging"
	rutils "github.com/hexapod/rangemapper/utils"
)

// DefaultTelemetryInterval keeps telemetry at roughly 8 messages a second.
const DefaultTelemetryInterval = 120 * time.Millisecond

// Telemetry is the four sided distance summary sent to clients. Each field is in centimeters or
// -1 when there was no valid reading this cycle.
type Telemetry struct {
	Front rangefinder.Reading `json:"front"`
	Right rangefinder.Reading `json:"right"`
	Back  rangefinder.Reading `json:"back"`
	Left  rangefinder.Reading `json:"left"`
}

// EmptyTelemetry has no valid reading on any side.
func EmptyTelemetry() Telemetry {
	return Telemetry{
		Front: rangefinder.Invalid,
		Right: rangefinder.Invalid,
		Back:  rangefinder.Invalid,
		Left:  rangefinder.Invalid,
	}
}

// Marshal encodes the telemetry as {"front":F,"right":R,"back":B,"left":L}.
func (t Telemetry) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// A Publisher delivers a message to every connected client.
type Publisher interface {
	Broadcast(ctx context.Context, msg []byte) error
}

// Broadcaster throttles telemetry to at most one message per interval and hands it to the
// publisher off the caller's goroutine. Only the newest undelivered message is kept.
type Broadcaster struct {
	mu       sync.Mutex
	pub      Publisher
	interval time.Duration
	clock    clock.Clock
	logger   logging.Logger
	last     time.Time
	sent     bool
	count    int
	dropped  int

	outbound chan []byte
	workers  rutils.StoppableWorkers
}

// NewBroadcaster returns a broadcaster that has never sent; its first offer goes out. A non
// positive interval selects DefaultTelemetryInterval. Close stops its delivery worker.
func NewBroadcaster(pub Publisher, interval time.Duration, clk clock.Clock, logger logging.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}
	b := &Broadcaster{
		pub:      pub,
		interval: interval,
		clock:    clk,
		logger:   logger,
		outbound: make(chan []byte, 1),
	}
	b.workers = rutils.NewStoppableWorkers(context.Background(), b.deliver)
	return b
}

// Offer queues t for delivery if at least one interval has elapsed since the last broadcast and
// reports whether it did. It never waits on the publisher: a message still queued when the next
// one is offered is replaced. Delivery failures are logged and not retried, and still count as a
// broadcast for throttling.
func (b *Broadcaster) Offer(t Telemetry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	if b.sent && now.Sub(b.last) < b.interval {
		return false
	}
	b.last = now
	b.sent = true
	b.count++

	msg, err := t.Marshal()
	if err != nil {
		b.logger.Warnw("cannot encode telemetry", "error", err)
		return true
	}
	select {
	case b.outbound <- msg:
		return true
	default:
	}
	// the publisher is behind; replace the stale message
	select {
	case <-b.outbound:
		b.dropped++
		b.logger.Debugw("telemetry superseded before delivery", "dropped", b.dropped)
	default:
	}
	select {
	case b.outbound <- msg:
	default:
	}
	return true
}

func (b *Broadcaster) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbound:
			if err := b.pub.Broadcast(ctx, msg); err != nil {
				b.logger.Debugw("telemetry not delivered", "error", errors.Wrap(err, "broadcast"))
			}
		}
	}
}

// Count returns how many broadcasts have been attempted.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns how many queued messages were replaced before the publisher took them.
func (b *Broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close cancels any delivery in flight and waits for the worker to exit.
func (b *Broadcaster) Close() {
	b.workers.Stop()
}
