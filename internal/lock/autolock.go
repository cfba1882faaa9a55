package lock

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartAutoLock locks m once it has been idle for longer than idle,
// checking every interval until ctx is done.
func StartAutoLock(
	ctx context.Context,
	m *Machine,
	interval time.Duration,
	idle time.Duration,
	log *zap.Logger,
) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.lockIfIdle(idle) {
					log.Info("auto-locked after inactivity", zap.Duration("idle", idle))
				}
			}
		}
	}()
}
