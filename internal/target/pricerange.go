package target

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
)

// BreachAction is the monitor's reaction when the market price leaves an
// order's configured band.
type BreachAction string

const (
	BreachActionCancel BreachAction = "cancel"
	BreachActionAdjust BreachAction = "adjust"
	BreachActionNotify BreachAction = "notify"
	BreachActionKeep   BreachAction = "keep"
)

// Valid reports whether the action is one of the known kinds.
func (a BreachAction) Valid() bool {
	switch a {
	case BreachActionCancel, BreachActionAdjust, BreachActionNotify, BreachActionKeep:
		return true
	}
	return false
}

// PriceRangeConfig is the acceptable market-price band for one order.
type PriceRangeConfig struct {
	MinPrice     float64
	MaxPrice     float64
	Action       BreachAction
	PollInterval time.Duration
}

// maxPricePoints bounds the per-order history the monitor keeps in memory.
const maxPricePoints = 100

// PricePoint is one observed market price.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// PriceRangeMonitor polls the market price per tracked order and reacts
// when it exits the configured band. Callers must serialize invocations
// per order id.
type PriceRangeMonitor struct {
	exchange domain.Exchange
	prices   domain.PriceCache // optional fallback/shared cache
	notifier Notifier          // optional, used by the notify action
	logger   *slog.Logger

	mu        sync.Mutex
	configs   map[string]PriceRangeConfig
	trackedAt map[string]time.Time
	lastCheck map[string]time.Time
	history   map[string][]PricePoint
}

// NewPriceRangeMonitor creates a monitor bound to the given exchange.
// prices and notifier may be nil.
func NewPriceRangeMonitor(exchange domain.Exchange, prices domain.PriceCache, notifier Notifier, logger *slog.Logger) *PriceRangeMonitor {
	return &PriceRangeMonitor{
		exchange:  exchange,
		prices:    prices,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "price_range")),
		configs:   make(map[string]PriceRangeConfig),
		trackedAt: make(map[string]time.Time),
		lastCheck: make(map[string]time.Time),
		history:   make(map[string][]PricePoint),
	}
}

// Track registers (or replaces) the band for an order.
func (p *PriceRangeMonitor) Track(orderID string, cfg PriceRangeConfig) error {
	if cfg.MinPrice <= 0 || cfg.MaxPrice <= cfg.MinPrice {
		return fmt.Errorf("price range: invalid band [%.2f, %.2f] for order %s", cfg.MinPrice, cfg.MaxPrice, orderID)
	}
	if !cfg.Action.Valid() {
		cfg.Action = BreachActionNotify
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	p.mu.Lock()
	p.configs[orderID] = cfg
	p.trackedAt[orderID] = time.Now()
	p.mu.Unlock()
	return nil
}

// Untrack removes the order's band and history.
func (p *PriceRangeMonitor) Untrack(orderID string) {
	p.mu.Lock()
	delete(p.configs, orderID)
	delete(p.trackedAt, orderID)
	delete(p.lastCheck, orderID)
	delete(p.history, orderID)
	p.mu.Unlock()
}

// Tracked reports whether the order has a registered band.
func (p *PriceRangeMonitor) Tracked(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.configs[orderID]
	return ok
}

// ShouldCheckPrice reports whether a poll for the order is due.
func (p *PriceRangeMonitor) ShouldCheckPrice(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.configs[orderID]
	if !ok {
		return false
	}
	last, ok := p.lastCheck[orderID]
	if !ok {
		return true
	}
	return time.Since(last) >= cfg.PollInterval
}

// CheckMarketPrice polls the market price for the order's title, records
// it, and dispatches the configured action when it sits outside the band.
// The market price is the mean of best bid and best ask when both exist,
// otherwise whichever side the book has.
func (p *PriceRangeMonitor) CheckMarketPrice(ctx context.Context, orderID string, game domain.Game, title string) domain.OperationResult {
	now := time.Now()

	p.mu.Lock()
	cfg, ok := p.configs[orderID]
	if !ok {
		p.mu.Unlock()
		return domain.Fail(domain.CodeInvalidAttributes, "no price range registered for this order").
			WithOrderID(orderID).
			WithSuggestions("register a price range before checking")
	}
	if last, seen := p.lastCheck[orderID]; seen && now.Sub(last) < cfg.PollInterval {
		p.mu.Unlock()
		return domain.OK("price check not due yet").
			WithOrderID(orderID).
			WithMeta("checked", false)
	}
	p.lastCheck[orderID] = now
	p.mu.Unlock()

	marketPrice, err := p.fetchMarketPrice(ctx, game, title)
	if err != nil {
		return domain.Fail(domain.CodeUnknownError, "market price unavailable").
			WithOrderID(orderID).
			WithReason(err.Error()).
			WithSuggestions("retry on the next poll interval")
	}

	p.record(ctx, orderID, game, title, marketPrice, now)

	res := domain.OK("market price checked").
		WithOrderID(orderID).
		WithMeta("checked", true).
		WithMeta("market_price", marketPrice).
		WithMeta("min_price", cfg.MinPrice).
		WithMeta("max_price", cfg.MaxPrice)

	switch {
	case marketPrice < cfg.MinPrice:
		return p.handleBreach(ctx, orderID, cfg, marketPrice, "below_min", res)
	case marketPrice > cfg.MaxPrice:
		return p.handleBreach(ctx, orderID, cfg, marketPrice, "above_max", res)
	default:
		return res.WithMeta("in_range", true)
	}
}

// fetchMarketPrice asks the aggregated-price endpoint first and falls back
// to the shared price cache when the endpoint is unavailable.
func (p *PriceRangeMonitor) fetchMarketPrice(ctx context.Context, game domain.Game, title string) (float64, error) {
	agg, err := p.exchange.GetAggregatedPrice(ctx, game, title)
	if err == nil {
		if mid, ok := agg.MidPrice(); ok {
			return mid, nil
		}
		err = fmt.Errorf("order book for %q is empty on both sides", title)
	}

	if p.prices != nil {
		if cached, _, cacheErr := p.prices.GetPrice(ctx, game, title); cacheErr == nil && cached > 0 {
			p.logger.DebugContext(ctx, "using cached market price",
				slog.String("title", title),
				slog.Float64("price", cached),
			)
			return cached, nil
		}
	}
	return 0, err
}

// record appends the observation to the bounded history and mirrors it to
// the shared price cache best-effort.
func (p *PriceRangeMonitor) record(ctx context.Context, orderID string, game domain.Game, title string, price float64, ts time.Time) {
	p.mu.Lock()
	pts := append(p.history[orderID], PricePoint{Time: ts, Price: price})
	if len(pts) > maxPricePoints {
		pts = pts[len(pts)-maxPricePoints:]
	}
	p.history[orderID] = pts
	p.mu.Unlock()

	if p.prices != nil {
		if err := p.prices.SetPrice(ctx, game, title, price, ts); err != nil {
			p.logger.DebugContext(ctx, "price cache update failed",
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleBreach dispatches the configured breach action. The check itself
// succeeded, so every action except a failed cancel reports success with
// breach metadata attached.
func (p *PriceRangeMonitor) handleBreach(ctx context.Context, orderID string, cfg PriceRangeConfig, marketPrice float64, breachType string, res domain.OperationResult) domain.OperationResult {
	res = res.
		WithMeta("in_range", false).
		WithMeta("breach_type", breachType).
		WithMeta("breach_action", string(cfg.Action))

	p.logger.Info("price band breached",
		slog.String("order_id", orderID),
		slog.String("breach_type", breachType),
		slog.Float64("market_price", marketPrice),
		slog.Float64("min_price", cfg.MinPrice),
		slog.Float64("max_price", cfg.MaxPrice),
	)

	switch cfg.Action {
	case BreachActionCancel:
		if err := p.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
			return domain.Fail(domain.CodeUnknownError, "cancel on price breach failed").
				WithOrderID(orderID).
				WithReason(err.Error()).
				WithMeta("breach_type", breachType).
				WithSuggestions("cancel the order manually")
		}
		p.Untrack(orderID)
		return res.WithMeta("cancelled", true).
			WithSuggestions("order cancelled because the market left its band")

	case BreachActionAdjust:
		// Clamp to the nearest bound; recreating the order at the new
		// price is the caller's job.
		adjusted := cfg.MinPrice
		if breachType == "above_max" {
			adjusted = cfg.MaxPrice
		}
		return res.WithMeta("adjusted_price", adjusted).
			WithMeta("action_required", "recreate").
			WithSuggestions(fmt.Sprintf("recreate the order at %.2f", adjusted))

	case BreachActionKeep:
		return res.WithMeta("kept", true)

	default: // BreachActionNotify
		msg := fmt.Sprintf("market price %.2f for order %s left the band [%.2f, %.2f] (%s)",
			marketPrice, orderID, cfg.MinPrice, cfg.MaxPrice, breachType)
		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, "price_breach", "Price band breached", msg); err != nil {
				p.logger.WarnContext(ctx, "breach notification failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
			}
		}
		return res.WithSuggestions(msg)
	}
}

// GetPriceHistory returns the order's observations from the trailing
// window, newest last.
func (p *PriceRangeMonitor) GetPriceHistory(orderID string, window time.Duration) []PricePoint {
	cutoff := time.Now().Add(-window)
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PricePoint
	for _, pt := range p.history[orderID] {
		if pt.Time.After(cutoff) {
			out = append(out, pt)
		}
	}
	return out
}

// Migrate moves band, poll state and history from oldID to newID.
func (p *PriceRangeMonitor) Migrate(oldID, newID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.configs[oldID]
	if !ok {
		return false
	}
	delete(p.configs, oldID)
	p.configs[newID] = cfg
	if at, ok := p.trackedAt[oldID]; ok {
		delete(p.trackedAt, oldID)
		p.trackedAt[newID] = at
	}
	if last, ok := p.lastCheck[oldID]; ok {
		delete(p.lastCheck, oldID)
		p.lastCheck[newID] = last
	}
	if h, ok := p.history[oldID]; ok {
		delete(p.history, oldID)
		p.history[newID] = h
	}
	return true
}

// Cleanup drops history points older than maxAge and untracks orders with no
// activity since the cutoff; an order that was tracked but never checked ages
// out by its registration time. The dropped points are returned keyed by
// order id so the caller can archive them.
func (p *PriceRangeMonitor) Cleanup(maxAge time.Duration) (points, orders int, dropped map[string][]PricePoint) {
	cutoff := time.Now().Add(-maxAge)
	dropped = make(map[string][]PricePoint)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pts := range p.history {
		var kept, old []PricePoint
		for _, pt := range pts {
			if pt.Time.After(cutoff) {
				kept = append(kept, pt)
			} else {
				old = append(old, pt)
			}
		}
		points += len(old)
		if len(old) > 0 {
			dropped[id] = append(dropped[id], old...)
		}
		if len(kept) == 0 {
			delete(p.history, id)
		} else {
			p.history[id] = kept
		}
	}
	for id := range p.configs {
		last, checked := p.lastCheck[id]
		if !checked {
			last = p.trackedAt[id]
		}
		if last.Before(cutoff) {
			if pts := p.history[id]; len(pts) > 0 {
				dropped[id] = append(dropped[id], pts...)
			}
			delete(p.configs, id)
			delete(p.trackedAt, id)
			delete(p.lastCheck, id)
			delete(p.history, id)
			orders++
		}
	}
	return points, orders, dropped
}
