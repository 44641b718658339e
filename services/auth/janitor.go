package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunCodeJanitor purges expired codes every interval until ctx is done
func (s *Service) RunCodeJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredCodes(ctx)
			if err != nil {
				s.logger.Warn("code cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("expired codes purged", zap.Int64("deleted", n))
			}
		}
	}
}
