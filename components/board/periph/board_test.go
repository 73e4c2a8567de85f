package periph

import (
	"testing"

	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/hexapod/rangemapper/logging"
)

func TestGPIOPinByName(t *testing.T) {
	pin := &gpiotest.Pin{N: "RANGEMAPPER_TEST_4", Num: 9004}
	test.That(t, gpioreg.Register(pin), test.ShouldBeNil)
	defer func() {
		test.That(t, gpioreg.Unregister(pin.N), test.ShouldBeNil)
	}()

	b := NewBoard(logging.NewTestLogger(t))
	got, err := b.GPIOPinByName("RANGEMAPPER_TEST_4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Name(), test.ShouldEqual, "RANGEMAPPER_TEST_4")

	again, err := b.GPIOPinByName("RANGEMAPPER_TEST_4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, got)

	test.That(t, got.Out(gpio.High), test.ShouldBeNil)
	test.That(t, got.Read(), test.ShouldEqual, gpio.High)

	_, err = b.GPIOPinByName("NO_SUCH_PIN")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "NO_SUCH_PIN")

	test.That(t, b.Close(), test.ShouldBeNil)
}
