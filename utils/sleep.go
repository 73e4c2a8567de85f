// Package utils contains small helpers shared by the controller packages.
package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// SelectContextOrWait waits for d on clk and returns true, or returns false early if ctx is
// done first. A non positive d returns immediately without touching the clock, so tests that
// zero their delays never block on a mock clock.
func SelectContextOrWait(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
