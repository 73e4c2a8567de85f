// Package board defines the GPIO provider the controller's sensors and servos are wired to.
package board

import (
	"periph.io/x/conn/v3/gpio"
)

// A Board hands out GPIO lines by name.
type Board interface {
	// GPIOPinByName returns the line with the given name (a number or a header name such as
	// "GPIO4").
	GPIOPinByName(name string) (gpio.PinIO, error)

	// Close releases every line handed out.
	Close() error
}
