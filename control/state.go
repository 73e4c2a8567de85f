// Package control runs the mapping control cycle and implements the command and telemetry
// protocol spoken with remote clients.
package control

import (
	"go.uber.org/atomic"
)

// Speed limits and defaults.
const (
	MinSpeed     = 0
	MaxSpeed     = 5
	DefaultSpeed = 1
)

// Mode is the state of the control cycle.
type Mode int

const (
	// ModeActive runs sweeps, pose updates and telemetry.
	ModeActive Mode = iota
	// ModePaused only services commands and resets.
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "ACTIVE"
	case ModePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// State is the control state shared between command handling and the control cycle. Every
// field is its own atomic word; a reader may observe an update one cycle late.
type State struct {
	mappingActive  atomic.Bool
	movementSpeed  atomic.Int32
	resetRequested atomic.Bool
}

// NewState returns the boot state: mapping active, speed 1, no reset pending.
func NewState() *State {
	s := &State{}
	s.mappingActive.Store(true)
	s.movementSpeed.Store(DefaultSpeed)
	return s
}

// MappingActive reports whether sweeps should run.
func (s *State) MappingActive() bool {
	return s.mappingActive.Load()
}

// SetMappingActive starts or stops mapping from the next cycle on.
func (s *State) SetMappingActive(active bool) {
	s.mappingActive.Store(active)
}

// Mode returns the mode the next cycle will run in.
func (s *State) Mode() Mode {
	if s.MappingActive() {
		return ModeActive
	}
	return ModePaused
}

// Speed returns the movement speed level.
func (s *State) Speed() int {
	return int(s.movementSpeed.Load())
}

// SetSpeed stores speed clamped to [MinSpeed, MaxSpeed] and returns the stored value.
func (s *State) SetSpeed(speed int) int {
	clamped := ClampSpeed(speed)
	s.movementSpeed.Store(int32(clamped))
	return clamped
}

// RequestReset asks the control cycle to clear the map and pose.
func (s *State) RequestReset() {
	s.resetRequested.Store(true)
}

// ResetPending reports whether a reset is waiting to be consumed.
func (s *State) ResetPending() bool {
	return s.resetRequested.Load()
}

// ConsumeReset clears a pending reset and reports whether there was one.
func (s *State) ConsumeReset() bool {
	return s.resetRequested.Swap(false)
}

// ClampSpeed limits speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
