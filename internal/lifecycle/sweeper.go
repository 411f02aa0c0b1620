package lifecycle

import (
	"context"
	"time"
)

// Sweeper periodically ends expired auctions
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Run blocks until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.EndExpired(ctx)
			if err != nil && ctx.Err() == nil {
				s.manager.logger.WithError(err).Error("auction sweep failed")
				continue
			}
			if n > 0 {
				s.manager.logger.WithField("ended", n).Info("auction sweep finished")
			}
		}
	}
}
