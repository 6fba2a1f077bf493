package staging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clearstage/enhance/internal/model"
)

// Sweeper enforces the batch lifecycle clock: non-terminal batches past
// the expiry window are marked expired, terminal batches past the
// retention window are purged. Purges share the manager's per-batch
// locks, so a purge can never interleave with a promotion of the same
// batch.
type Sweeper struct {
	mgr     *Manager
	limiter *rate.Limiter
}

// NewSweeper builds a sweeper over the manager's store and lifecycle
// configuration.
func NewSweeper(mgr *Manager) *Sweeper {
	per := mgr.cfg.PurgePerSecond
	if per <= 0 {
		per = DefaultConfig().PurgePerSecond
	}
	return &Sweeper{
		mgr:     mgr,
		limiter: rate.NewLimiter(rate.Limit(per), 1),
	}
}

// Run sweeps on the configured interval until the context is canceled.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.mgr.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				zap.L().Error("staging: sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one expiry and purge pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.mgr.now().UTC()

	expired, err := s.expireStale(ctx, now)
	if err != nil {
		return err
	}
	purged, err := s.purgeAged(ctx, now)
	if err != nil {
		return err
	}

	if expired > 0 || purged > 0 {
		zap.L().Info("staging: sweep complete",
			zap.Int("expired", expired),
			zap.Int("purged", purged),
		)
	}
	s.mgr.usage.Purge()
	return nil
}

// expireStale marks batches stuck in a non-terminal state past Expiry.
func (s *Sweeper) expireStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.mgr.cfg.Expiry)
	states := []model.BatchState{
		model.BatchStateCreated,
		model.BatchStatePopulated,
		model.BatchStateValidating,
		model.BatchStateHeldForApproval,
	}

	expired := 0
	for _, state := range states {
		batches, err := s.mgr.store.ListBatches(ctx, BatchFilter{
			State:        state,
			UpdatedUntil: cutoff,
		})
		if err != nil {
			return expired, err
		}
		for _, b := range batches {
			if err := s.expireOne(ctx, b.ID); err != nil {
				zap.L().Warn("staging: expire failed",
					zap.String("batch", b.ID),
					zap.Error(err),
				)
				continue
			}
			expired++
		}
	}
	return expired, nil
}

func (s *Sweeper) expireOne(ctx context.Context, batchID string) error {
	mu := s.mgr.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; the batch may have progressed since the
	// list query.
	batch, err := s.mgr.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State.Terminal() {
		return nil
	}
	return s.mgr.transition(ctx, batch, model.BatchStateExpired)
}

// purgeAged removes terminal batches whose retention has elapsed. Each
// purge waits on the rate limiter first.
func (s *Sweeper) purgeAged(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.mgr.cfg.Retention)
	states := []model.BatchState{
		model.BatchStatePromoted,
		model.BatchStateRejected,
		model.BatchStateExpired,
	}

	purged := 0
	for _, state := range states {
		batches, err := s.mgr.store.ListBatches(ctx, BatchFilter{
			State:        state,
			UpdatedUntil: cutoff,
		})
		if err != nil {
			return purged, err
		}
		for _, b := range batches {
			if err := s.limiter.Wait(ctx); err != nil {
				return purged, err
			}
			if err := s.purgeOne(ctx, b.ID); err != nil {
				zap.L().Warn("staging: purge failed",
					zap.String("batch", b.ID),
					zap.Error(err),
				)
				continue
			}
			purged++
		}
	}
	return purged, nil
}

func (s *Sweeper) purgeOne(ctx context.Context, batchID string) error {
	mu := s.mgr.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	// The mutex entry is kept: a goroutine may already be parked on it,
	// and deleting would let lockFor mint a second mutex for the same
	// batch. Later operations fail with ErrBatchNotFound under the
	// original lock.
	return s.mgr.store.PurgeBatch(ctx, batchID)
}
