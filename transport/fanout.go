package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/utils"
)

// Fanout merges several channels into one: broadcasts go to all of them and their inbound
// messages are read from a single inbox.
type Fanout struct {
	mu       sync.Mutex
	channels []Channel
	inbox    *inbox
	workers  utils.StoppableWorkers
	closed   bool
	logger   logging.Logger
}

var _ = Channel(&Fanout{})

// NewFanout starts forwarding the inbound messages of every channel.
func NewFanout(inboxSize int, logger logging.Logger, channels ...Channel) *Fanout {
	f := &Fanout{
		channels: channels,
		inbox:    newInbox(inboxSize, logger),
		logger:   logger,
	}
	f.workers = utils.NewStoppableWorkers(context.Background())
	for _, c := range channels {
		c := c
		f.workers.AddWorkers(func(ctx context.Context) {
			f.forward(ctx, c)
		})
	}
	return f
}

func (f *Fanout) forward(ctx context.Context, c Channel) {
	in := c.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			f.inbox.deliver(msg)
		}
	}
}

// Channels returns the types of the merged channels.
func (f *Fanout) Channels() []Type {
	types := make([]Type, 0, len(f.channels))
	for _, c := range f.channels {
		types = append(types, c.Type())
	}
	return types
}

// Broadcast sends msg on every channel. A failure on one channel does not stop the others.
func (f *Fanout) Broadcast(ctx context.Context, msg []byte) error {
	var errs error
	for _, c := range f.channels {
		if err := c.Broadcast(ctx, msg); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s", c.Type()))
		}
	}
	return errs
}

// Messages returns the merged inbound messages. It is closed by Close.
func (f *Fanout) Messages() <-chan []byte {
	return f.inbox.ch
}

// Type returns TypeFanout.
func (f *Fanout) Type() Type {
	return TypeFanout
}

// Close stops forwarding, closes every channel and then the merged inbox.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	f.workers.Stop()
	var errs error
	for _, c := range f.channels {
		errs = multierr.Append(errs, c.Close())
	}
	close(f.inbox.ch)
	return errs
}
