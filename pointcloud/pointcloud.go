// Package pointcloud defines a bounded, insertion ordered cloud of 2D points in the mapping frame.
//
// Points are in centimeters. Once full, every insertion evicts the oldest point.
package pointcloud

import (
	"github.com/golang/geo/r2"
)

// DefaultCapacity is the number of points a cloud keeps unless told otherwise.
const DefaultCapacity = 1200

// Cloud is a fixed capacity FIFO of points backed by a ring buffer. It is not safe for
// concurrent use; the control loop owns it.
type Cloud struct {
	points []r2.Point
	head   int // index of the oldest point
	size   int
}

// New returns an empty cloud holding at most capacity points. A non positive capacity
// selects DefaultCapacity.
func New(capacity int) *Cloud {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cloud{points: make([]r2.Point, capacity)}
}

// Len returns the number of points in the cloud.
func (c *Cloud) Len() int {
	return c.size
}

// Cap returns the maximum number of points the cloud holds.
func (c *Cloud) Cap() int {
	return len(c.points)
}

// Add appends a point. When the cloud is full the oldest point is dropped and returned
// with evicted set.
func (c *Cloud) Add(p r2.Point) (dropped r2.Point, evicted bool) {
	if c.size < len(c.points) {
		c.points[(c.head+c.size)%len(c.points)] = p
		c.size++
		return r2.Point{}, false
	}
	dropped = c.points[c.head]
	c.points[c.head] = p
	c.head = (c.head + 1) % len(c.points)
	return dropped, true
}

// At returns the i-th oldest point.
func (c *Cloud) At(i int) (r2.Point, bool) {
	if i < 0 || i >= c.size {
		return r2.Point{}, false
	}
	return c.points[(c.head+i)%len(c.points)], true
}

// Clear removes every point.
func (c *Cloud) Clear() {
	c.head = 0
	c.size = 0
}

// Iterate calls fn for every point from oldest to newest. Iteration stops early if fn
// returns false.
func (c *Cloud) Iterate(fn func(i int, p r2.Point) bool) {
	for i := 0; i < c.size; i++ {
		if !fn(i, c.points[(c.head+i)%len(c.points)]) {
			return
		}
	}
}

// Points returns a copy of the points from oldest to newest.
func (c *Cloud) Points() []r2.Point {
	out := make([]r2.Point, 0, c.size)
	c.Iterate(func(_ int, p r2.Point) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Bounds returns the smallest rectangle holding every point. An empty cloud has an empty
// rectangle.
func (c *Cloud) Bounds() r2.Rect {
	if c.size == 0 {
		return r2.EmptyRect()
	}
	return r2.RectFromPoints(c.Points()...)
}
