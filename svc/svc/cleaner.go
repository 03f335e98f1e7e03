package svc

import (
	"context"
	"sync/atomic"
	"time"

	"burnbin/metrics"
	"burnbin/svc/util"

	"github.com/pkg/errors"
)

// Cleaner removes expired pastes. Expired rows are never served, the cleaner
// only reclaims their space.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

var cleanerRunning atomic.Bool

// StartCleaner runs store.CleanupExpired every interval until ctx is done.
// Only one cleaner may run per process.
func StartCleaner(ctx context.Context, store Cleaner, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if !cleanerRunning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	go runCleaner(ctx, store, interval)
	return nil
}
func runCleaner(ctx context.Context, store Cleaner, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			metrics.PruneCycles.Inc()
			deleted, err := store.CleanupExpired(ctx)
			if deleted > 0 {
				metrics.PrunedPastes.Add(float64(deleted))
			}
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}
