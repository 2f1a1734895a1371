package jobs

import (
	"context"
	"log"
	"time"

	"vireworkplace/attendance/internal/config"
)

// StatusRefresher pulls the remote attendance status for every tracked
// session and reports how many were refreshed.
type StatusRefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// StartStatusPoller refreshes on every tick until ctx is cancelled. The
// returned channel is closed once the poller has stopped.
func StartStatusPoller(ctx context.Context, cfg config.Config, refresher StatusRefresher) <-chan struct{} {
	done := make(chan struct{})
	if refresher == nil {
		log.Printf("status poller disabled: no refresher configured")
		close(done)
		return done
	}
	interval := cfg.StatusRefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.StatusRefreshTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				n, err := refresher.RefreshAll(tickCtx)
				cancel()
				if err != nil {
					log.Printf("status poller error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("status poller refreshed %d sessions", n)
				}
			}
		}
	}()
	return done
}
