// Package transport carries command messages in from remote clients and telemetry out to them.
package transport

import (
	"context"

	"go.uber.org/atomic"

	"github.com/hexapod/rangemapper/logging"
)

// Type names a kind of channel.
type Type string

// Known channel types.
const (
	TypeWebSocket Type = "websocket"
	TypeMQTT      Type = "mqtt"
	TypeFanout    Type = "fanout"
)

// DefaultInboxSize is how many inbound messages a channel buffers before dropping.
const DefaultInboxSize = 32

// A Channel is a bidirectional, fire and forget message channel to remote clients.
type Channel interface {
	// Broadcast sends msg to every connected client. It never retries.
	Broadcast(ctx context.Context, msg []byte) error
	// Messages returns the inbound messages. The channel is only closed by a Fanout.
	Messages() <-chan []byte
	// Type names the channel.
	Type() Type
	Close() error
}

// inbox buffers inbound messages without ever blocking the sender; when full, new messages are
// dropped.
type inbox struct {
	ch      chan []byte
	dropped atomic.Uint64
	logger  logging.Logger
}

func newInbox(size int, logger logging.Logger) *inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &inbox{ch: make(chan []byte, size), logger: logger}
}

func (in *inbox) deliver(msg []byte) bool {
	select {
	case in.ch <- msg:
		return true
	default:
		in.logger.Debugw("inbox full, dropping message", "dropped", in.dropped.Inc())
		return false
	}
}

func (in *inbox) Dropped() uint64 {
	return in.dropped.Load()
}
