// Package fake implements a fake servo.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hexapod/rangemapper/components/servo"
)

// MoveHistory is how many of the most recent angles a Servo remembers.
const MoveHistory = 256

// Servo is a fake servo that records the last MoveHistory commanded angles.
type Servo struct {
	mu      sync.Mutex
	current uint32
	moves   []uint32
	total   int
	stopped bool

	// MoveFunc, when set, is called before a move is recorded and may fail it.
	MoveFunc func(ctx context.Context, angleDeg uint32) error
}

var _ = servo.Servo(&Servo{})

// NewServo returns a fake servo at the given starting angle.
func NewServo(startDeg uint32) *Servo {
	return &Servo{current: startDeg}
}

// Move records the angle.
func (s *Servo) Move(ctx context.Context, angleDeg uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if angleDeg > servo.MaxAngleDeg {
		return errors.Errorf("fake servo cannot move to %d degrees", angleDeg)
	}
	s.mu.Lock()
	fn := s.MoveFunc
	s.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, angleDeg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = angleDeg
	if len(s.moves) == MoveHistory {
		copy(s.moves, s.moves[1:])
		s.moves = s.moves[:MoveHistory-1]
	}
	s.moves = append(s.moves, angleDeg)
	s.total++
	s.stopped = false
	return nil
}

// Position returns the last commanded angle.
func (s *Servo) Position(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Stop marks the servo as stopped.
func (s *Servo) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// MoveCount returns how many moves succeeded, including those no longer in Moves.
func (s *Servo) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Moves returns a copy of the remembered angles, oldest first.
func (s *Servo) Moves() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.moves))
	copy(out, s.moves)
	return out
}

// Stopped reports whether Stop was called after the last move.
func (s *Servo) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
