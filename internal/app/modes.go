package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/targetlab/dmbot/internal/domain"
	"github.com/targetlab/dmbot/internal/feed"
	"github.com/targetlab/dmbot/internal/sched"
	"github.com/targetlab/dmbot/internal/target"
)

// ManageMode runs the target controllers and the background sweep loops
// without the market ws feed. Controllers fall back to the aggregated-price
// endpoint when the price cache is cold.
func (a *App) ManageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting manage mode")

	g, ctx := errgroup.WithContext(ctx)

	manager := a.buildManager(deps)
	a.startScheduler(ctx, g, deps, manager)

	return g.Wait()
}

// MonitorMode is read-only: it keeps the price cache warm from the ws feed
// and consumes target lifecycle events for visibility. No orders are placed
// or cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startMarketFeed(ctx, g, deps)

	// Lifecycle event consumer: surface every published target event in
	// the log so an operator can follow a managing instance.
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, "targets")
		if err != nil {
			return fmt.Errorf("monitor mode: subscribe targets: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "target event",
					slog.String("payload", string(payload)),
				)
			}
		}
	})

	return g.Wait()
}

// FullMode runs everything: the ws feed, the controllers, and the sweep
// loops.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startMarketFeed(ctx, g, deps)

	manager := a.buildManager(deps)
	a.startScheduler(ctx, g, deps, manager)

	return g.Wait()
}

// buildManager assembles the target manager with the controllers the config
// enables, wiring in the journal, signal bus, rate limiter, and archiver.
func (a *App) buildManager(deps *Dependencies) *target.TargetManager {
	cfg := target.ManagerConfig{
		Limits: target.Limits{
			MinPrice:      a.cfg.Targets.MinPrice,
			MaxPrice:      a.cfg.Targets.MaxPrice,
			MaxConditions: a.cfg.Targets.MaxConditions,
		},
		CheckDuplicates:    a.cfg.Targets.CheckDuplicates,
		DuplicateTolerance: a.cfg.Targets.DuplicateTolerance,
		SellFeePercent:     a.cfg.Targets.SellFeePercent,
		RangeBandPercent:   a.cfg.PriceRange.BandPercent,
		RangeAction:        target.BreachAction(a.cfg.PriceRange.Action),
		RangePollInterval:  a.cfg.PriceRange.PollInterval.Duration,
	}

	manager := target.NewTargetManager(cfg, deps.Exchange, a.logger)

	if a.cfg.Overbid.Enabled {
		manager = manager.WithOverbid(target.NewOverbidController(target.OverbidConfig{
			Enabled:           true,
			CheckInterval:     a.cfg.Overbid.CheckInterval.Duration,
			MaxOverbidPercent: a.cfg.Overbid.MaxOverbidPercent,
			MaxOverbidsPerDay: a.cfg.Overbid.MaxOverbidsPerDay,
			MinPriceGap:       a.cfg.Overbid.MinPriceGap,
		}, deps.Exchange, a.logger))
	}
	if a.cfg.Relist.Enabled {
		manager = manager.WithRelist(target.NewRelistManager(target.RelistConfig{
			Enabled:           true,
			MaxRelists:        a.cfg.Relist.MaxRelists,
			ResetPeriod:       a.cfg.Relist.ResetPeriod.Duration,
			Action:            target.LimitAction(a.cfg.Relist.Action),
			LowerPricePercent: a.cfg.Relist.LowerPricePercent,
		}, deps.Exchange, deps.Notifier, a.logger))
	}
	if a.cfg.PriceRange.Enabled {
		manager = manager.WithMonitor(target.NewPriceRangeMonitor(
			deps.Exchange, deps.PriceCache, deps.Notifier, a.logger,
		))
	}

	if deps.EventStore != nil {
		manager = manager.WithEventStore(deps.EventStore)
	}
	if deps.SignalBus != nil {
		manager = manager.WithSignalBus(deps.SignalBus)
	}
	if deps.RateLimiter != nil {
		manager = manager.WithRateLimiter(deps.RateLimiter)
	}
	if deps.Archiver != nil {
		manager = manager.WithArchiver(deps.Archiver)
	}

	return manager
}

// startScheduler adds the sweep loops to the errgroup.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, manager *target.TargetManager) {
	s := sched.New(sched.Config{
		Games:           a.games(),
		OverbidInterval: a.cfg.Scheduler.OverbidInterval.Duration,
		RangeInterval:   a.cfg.Scheduler.RangeInterval.Duration,
		CleanupInterval: a.cfg.Scheduler.CleanupInterval.Duration,
		LockTTL:         a.cfg.Scheduler.LockTTL.Duration,
		RetentionDays:   a.cfg.Targets.RetentionDays,
	}, manager, deps.LockManager, a.logger)

	g.Go(func() error {
		return s.Run(ctx)
	})
}

// startMarketFeed adds the reconnecting ws price feed to the errgroup.
func (a *App) startMarketFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.DMarket.WsHost == "" {
		a.logger.InfoContext(ctx, "ws_host not set, market feed disabled")
		return
	}

	f := feed.NewMarketFeed(a.cfg.DMarket.WsHost, a.games(), deps.PriceCache, a.logger)
	g.Go(func() error {
		defer f.Close()
		return f.Run(ctx)
	})
}

// games converts the configured game slugs to domain games.
func (a *App) games() []domain.Game {
	out := make([]domain.Game, 0, len(a.cfg.Targets.Games))
	for _, g := range a.cfg.Targets.Games {
		out = append(out, domain.Game(g))
	}
	return out
}
