// Package fake implements a fake range finder.
package fake

import (
	"context"
	"sync"

	"github.com/hexapod/rangemapper/components/rangefinder"
)

// RangeFinder is a fake range finder. Readings queued with Queue are returned first, in order;
// after that DistanceFunc is consulted, and without one the Fixed reading is returned.
type RangeFinder struct {
	mu           sync.Mutex
	Fixed        rangefinder.Reading
	DistanceFunc func(ctx context.Context) (rangefinder.Reading, error)
	queue        []rangefinder.Reading
	calls        int
}

var _ = rangefinder.RangeFinder(&RangeFinder{})

// NewRangeFinder returns a fake that always reports the given distance.
func NewRangeFinder(distance rangefinder.Reading) *RangeFinder {
	return &RangeFinder{Fixed: distance}
}

// Queue appends readings to be returned by subsequent calls.
func (f *RangeFinder) Queue(readings ...rangefinder.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, readings...)
}

// Calls returns how many measurements have been taken.
func (f *RangeFinder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Distance returns the next queued, computed or fixed reading.
func (f *RangeFinder) Distance(ctx context.Context) (rangefinder.Reading, error) {
	f.mu.Lock()
	f.calls++
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return next, nil
	}
	fn := f.DistanceFunc
	distance := f.Fixed
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return distance, nil
}
