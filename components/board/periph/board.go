// Package periph implements a board backed by the periph.io host drivers.
package periph

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/hexapod/rangemapper/components/board"
	"github.com/hexapod/rangemapper/logging"
)

// Board looks pins up in the periph registry.
type Board struct {
	mu     sync.Mutex
	pins   map[string]gpio.PinIO
	logger logging.Logger
}

var _ = board.Board(&Board{})

// Init loads the host drivers and returns a board. Drivers that fail to load are logged; the
// board is still usable for whatever pins did register.
func Init(logger logging.Logger) (*Board, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "error initializing host")
	}
	for _, d := range state.Loaded {
		logger.Debugw("loaded driver", "driver", d.String())
	}
	for _, f := range state.Failed {
		logger.Debugw("driver failed to load", "driver", f.D.String(), "error", f.Err)
	}
	return NewBoard(logger), nil
}

// NewBoard returns a board over already registered pins.
func NewBoard(logger logging.Logger) *Board {
	return &Board{pins: map[string]gpio.PinIO{}, logger: logger}
}

// GPIOPinByName returns the registered pin with the given name.
func (b *Board) GPIOPinByName(name string) (gpio.PinIO, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin, ok := b.pins[name]; ok {
		return pin, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", name)
	}
	b.pins[name] = pin
	return pin, nil
}

// Close halts every pin handed out.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs error
	for name, pin := range b.pins {
		if err := pin.Halt(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "halting pin %s", name))
		}
	}
	b.pins = map[string]gpio.PinIO{}
	return errs
}
