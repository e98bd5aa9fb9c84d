// Package feed keeps the price cache warm from the marketplace's real-time
// market-data stream.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
	"github.com/targetlab/dmbot/internal/platform/dmarket"
)

// reconnectDelay is the pause before re-dialing after a dropped connection.
const reconnectDelay = 2 * time.Second

// MarketFeed connects to the marketplace ws stream, subscribes to market
// updates for the configured games, and writes every price tick into the
// price cache. It reconnects on disconnect.
type MarketFeed struct {
	wsURL     string
	games     []domain.Game
	cache     domain.PriceCache
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed for the given games writing into cache.
func NewMarketFeed(wsURL string, games []domain.Game, cache domain.PriceCache, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:  wsURL,
		games:  games,
		cache:  cache,
		logger: logger.With(slog.String("component", "market_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and pumps price ticks into the cache until ctx is cancelled
// or Close is called. Dropped connections are re-dialed after a short delay.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.games) == 0 {
		f.logger.Info("no games configured, feed disabled")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("market ws disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// runConnection drives one connection from dial to drop.
func (f *MarketFeed) runConnection(ctx context.Context) error {
	client := dmarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnPriceUpdate(func(u dmarket.PriceUpdate) {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.cache.SetPrice(writeCtx, u.Game, u.Title, u.Price, u.At); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("title", u.Title),
				slog.String("error", err.Error()),
			)
		}
	})

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := client.Subscribe(ctx, f.games); err != nil {
		return err
	}
	f.logger.Info("market ws subscribed", slog.Int("games", len(f.games)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case <-client.Err():
		return errors.New("connection dropped")
	}
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
