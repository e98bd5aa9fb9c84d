// Package sched runs the background sweep loops that drive the target
// controllers: overbid checks, price-band checks, and data retention. Every
// per-order check is taken under a distributed lock so two bot processes
// never act on the same order at once.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/targetlab/dmbot/internal/domain"
	"github.com/targetlab/dmbot/internal/target"
)

// Config holds the sweep intervals. A zero interval disables that loop.
type Config struct {
	Games           []domain.Game
	OverbidInterval time.Duration
	RangeInterval   time.Duration
	CleanupInterval time.Duration
	LockTTL         time.Duration
	RetentionDays   int
}

// Scheduler owns the background loops. It holds no per-order state itself;
// everything lives in the manager's controllers.
type Scheduler struct {
	cfg     Config
	manager *target.TargetManager
	locks   domain.LockManager
	logger  *slog.Logger
}

// New creates a Scheduler. locks may be nil for single-process deployments;
// sweeps then run unlocked.
func New(cfg Config, manager *target.TargetManager, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		locks:   locks,
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts the configured loops and blocks until ctx is cancelled. The
// first loop to fail with a non-context error brings the others down.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.OverbidInterval > 0 {
		g.Go(func() error {
			return s.loop(ctx, "overbid_sweep", s.cfg.OverbidInterval, s.sweepOverbids)
		})
	}
	if s.cfg.RangeInterval > 0 {
		g.Go(func() error {
			return s.loop(ctx, "range_sweep", s.cfg.RangeInterval, s.sweepRanges)
		})
	}
	if s.cfg.CleanupInterval > 0 {
		g.Go(func() error {
			return s.loop(ctx, "cleanup", s.cfg.CleanupInterval, s.runCleanup)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop runs fn on every tick until ctx is done. A failing sweep is logged
// and retried on the next tick; it never kills the loop.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("loop started",
		slog.String("loop", name),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("sweep failed",
					slog.String("loop", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// sweepOverbids walks every active order and runs one overbid check per
// order under its lock.
func (s *Scheduler) sweepOverbids(ctx context.Context) error {
	return s.forEachOrder(ctx, func(ctx context.Context, game domain.Game, order domain.Order) {
		res := s.manager.MonitorAndOverbid(ctx, order.ID, game, order.Title, order.Price)
		if res == nil {
			return
		}
		if !res.Success && res.ErrorCode != "" {
			s.logger.Warn("overbid check failed",
				slog.String("order_id", order.ID),
				slog.String("code", string(res.ErrorCode)),
			)
		}
	})
}

// sweepRanges walks every active order and runs one price-band check per
// order under its lock.
func (s *Scheduler) sweepRanges(ctx context.Context) error {
	return s.forEachOrder(ctx, func(ctx context.Context, game domain.Game, order domain.Order) {
		res := s.manager.CheckPriceRange(ctx, order.ID, game, order.Title)
		if res == nil {
			return
		}
		if !res.Success && res.ErrorCode != "" {
			s.logger.Warn("range check failed",
				slog.String("order_id", order.ID),
				slog.String("code", string(res.ErrorCode)),
			)
		}
	})
}

// runCleanup sweeps expired controller state and archives old history.
func (s *Scheduler) runCleanup(ctx context.Context) error {
	report := s.manager.CleanupOldData(ctx, s.cfg.RetentionDays)
	s.logger.Info("cleanup finished",
		slog.Int("overbid_removed", report.OverbidRemoved),
		slog.Int("relist_removed", report.RelistRemoved),
		slog.Int("price_points_removed", report.PricePointsRemoved),
		slog.Int("orders_untracked", report.OrdersUntracked),
	)
	return nil
}

// forEachOrder lists the active orders per configured game and applies fn to
// each, one at a time, each under its per-order lock.
func (s *Scheduler) forEachOrder(ctx context.Context, fn func(context.Context, domain.Game, domain.Order)) error {
	for _, game := range s.cfg.Games {
		orders, err := s.manager.GetTargets(ctx, game)
		if err != nil {
			s.logger.Warn("listing targets failed",
				slog.String("game", string(game)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, order := range orders {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.withOrderLock(ctx, order.ID, func() {
				fn(ctx, game, order)
			})
		}
	}
	return nil
}

// withOrderLock runs fn holding the per-order lock. When another process
// holds the lock the check is skipped; it will be retried on a later sweep.
func (s *Scheduler) withOrderLock(ctx context.Context, orderID string, fn func()) {
	if s.locks == nil {
		fn()
		return
	}

	unlock, err := s.locks.Acquire(ctx, "order:"+orderID, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("order locked elsewhere, skipping",
				slog.String("order_id", orderID),
			)
			return
		}
		s.logger.Warn("lock acquire failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	fn()
}
