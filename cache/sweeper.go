package cache

import (
	"context"
	"time"

	"github.com/gogpu/ggstream"
)

// Sweeper removes expired entries.
type Sweeper interface {
	Sweep(now time.Time) int
}

// DefaultSweepInterval is used by RunSweeper for non-positive intervals.
const DefaultSweepInterval = 30 * time.Second

// RunSweeper calls Sweep on every sweeper once per interval until ctx is
// done. It runs on its own goroutine schedule, independent of any render
// loop, and returns ctx.Err().
func RunSweeper(ctx context.Context, interval time.Duration, sweepers ...Sweeper) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for i, s := range sweepers {
				if n := s.Sweep(now); n > 0 {
					ggstream.Logger().Debug("cache: swept expired entries", "sweeper", i, "removed", n)
				}
			}
		}
	}
}
