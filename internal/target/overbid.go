package target

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
)

// CheckState names the outcome of a single competition check. The states
// form the controller's per-order machine: an order is unchecked until its
// first call, then cycles through the checked states on every poll.
type CheckState string

const (
	CheckNotDue          CheckState = "not_due"
	CheckNoCompetition   CheckState = "no_competition"
	CheckAlreadyBest     CheckState = "already_best"
	CheckOverbidExecuted CheckState = "overbid_executed"
	CheckBlockedByCap    CheckState = "blocked_by_cap"
	CheckLimitReached    CheckState = "limit_reached"
)

// OverbidConfig bounds how aggressively the controller chases competitors.
type OverbidConfig struct {
	Enabled           bool
	CheckInterval     time.Duration
	MaxOverbidPercent float64 // cap relative to the order's initial price
	MaxOverbidsPerDay int
	MinPriceGap       float64 // how far above the best competitor to bid
	SelfPriceEpsilon  float64 // competitor prices this close to ours are treated as our own
}

// DefaultOverbidConfig returns conservative production defaults.
func DefaultOverbidConfig() OverbidConfig {
	return OverbidConfig{
		Enabled:           true,
		CheckInterval:     5 * time.Minute,
		MaxOverbidPercent: 10,
		MaxOverbidsPerDay: 5,
		MinPriceGap:       PriceStep,
		SelfPriceEpsilon:  PriceStep / 2,
	}
}

// OverbidEntry is one successful price raise in an order's history.
type OverbidEntry struct {
	Time     time.Time
	OldPrice float64
	NewPrice float64
	Reason   string
}

// overbidState is the per-order record. initialPrice is latched on the
// first check and survives cancel-and-recreate cycles so the percentage
// cap stays anchored to the price the operator originally chose.
type overbidState struct {
	initialPrice float64
	history      []OverbidEntry
	lastCheck    time.Time
}

// OverbidController raises an order's price to stay ahead of competitors,
// subject to a percentage-of-initial cap and a per-day raise budget.
// Callers must serialize invocations per order id; calls for distinct
// orders are independent.
type OverbidController struct {
	cfg      OverbidConfig
	exchange domain.Exchange
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*overbidState
}

// NewOverbidController creates a controller bound to the given exchange.
func NewOverbidController(cfg OverbidConfig, exchange domain.Exchange, logger *slog.Logger) *OverbidController {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultOverbidConfig().CheckInterval
	}
	if cfg.MinPriceGap <= 0 {
		cfg.MinPriceGap = PriceStep
	}
	if cfg.SelfPriceEpsilon <= 0 {
		cfg.SelfPriceEpsilon = PriceStep / 2
	}
	return &OverbidController{
		cfg:      cfg,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "overbid")),
		states:   make(map[string]*overbidState),
	}
}

// ShouldCheckCompetition reports whether a check for the order is due.
// Unknown orders are always due; known orders wait out the check interval.
func (c *OverbidController) ShouldCheckCompetition(orderID string) bool {
	if !c.cfg.Enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[orderID]
	if !ok {
		return true
	}
	return time.Since(st.lastCheck) >= c.cfg.CheckInterval
}

// CheckAndOverbid runs one competition check for the order. On the first
// call for an order id the current price is latched as the initial price.
// When a competitor is ahead and the raise fits inside both limits, the
// old order is cancelled and recreated at best competitor + MinPriceGap,
// and the tracking record (initial price included) moves to the new id.
func (c *OverbidController) CheckAndOverbid(ctx context.Context, orderID string, game domain.Game, title string, currentPrice float64) domain.OperationResult {
	if !c.cfg.Enabled {
		return domain.Fail(domain.CodeUnknownError, "overbid controller is disabled")
	}
	now := time.Now()

	c.mu.Lock()
	st, ok := c.states[orderID]
	if !ok {
		st = &overbidState{initialPrice: currentPrice}
		c.states[orderID] = st
	}
	st.lastCheck = now
	initial := st.initialPrice
	daily := 0
	for _, e := range st.history {
		if now.Sub(e.Time) < 24*time.Hour {
			daily++
		}
	}
	c.mu.Unlock()

	if daily >= c.cfg.MaxOverbidsPerDay {
		return domain.Fail(domain.CodeOrderLimitReached,
			fmt.Sprintf("daily overbid limit reached: %d/%d", daily, c.cfg.MaxOverbidsPerDay)).
			WithOrderID(orderID).
			WithMeta("state", string(CheckLimitReached)).
			WithMeta("overbids_today", daily).
			WithSuggestions("wait for the 24h window to roll over", "raise max_overbids_per_day")
	}

	market, err := c.exchange.ListOrdersByTitle(ctx, game, title)
	if err != nil {
		c.logger.WarnContext(ctx, "competition lookup failed",
			slog.String("order_id", orderID),
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return domain.Fail(domain.CodeUnknownError, "competition lookup failed").
			WithOrderID(orderID).
			WithReason(err.Error()).
			WithSuggestions("retry on the next check interval")
	}

	best := c.bestCompetitorPrice(market, orderID, currentPrice)
	if best <= 0 {
		return domain.OK("no competition on the book").
			WithOrderID(orderID).
			WithMeta("state", string(CheckNoCompetition))
	}
	if currentPrice >= best {
		return domain.OK("order is already the best bid").
			WithOrderID(orderID).
			WithMeta("state", string(CheckAlreadyBest)).
			WithMeta("best_competitor", best)
	}

	newPrice := best + c.cfg.MinPriceGap
	maxPrice := initial * (1 + c.cfg.MaxOverbidPercent/100)
	if newPrice > maxPrice+1e-9 {
		return domain.Fail(domain.CodePriceTooHigh,
			fmt.Sprintf("required price %.2f exceeds the overbid cap %.2f", newPrice, maxPrice)).
			WithOrderID(orderID).
			WithMeta("state", string(CheckBlockedByCap)).
			WithMeta("best_competitor", best).
			WithMeta("overbid_cap", maxPrice).
			WithSuggestions("raise max_overbid_percent or accept losing priority")
	}

	amount, attrs := c.lookupOwnOrder(ctx, game, title, orderID)

	if err := c.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
		return domain.Fail(domain.CodeUnknownError, "cancelling the outbid order failed").
			WithOrderID(orderID).
			WithReason(err.Error()).
			WithSuggestions("retry on the next check interval")
	}

	created, err := c.exchange.CreateOrders(ctx, game, []domain.OrderSpec{{
		Title:  title,
		Price:  newPrice,
		Amount: amount,
		Attrs:  attrs,
	}})
	if err != nil || len(created) == 0 || !created[0].Created {
		reason := "placement returned no created order"
		if err != nil {
			reason = err.Error()
		} else if len(created) > 0 && created[0].Error != "" {
			reason = created[0].Error
		}
		// The old order is already gone; surface that loudly so the
		// operator can recreate by hand.
		c.logger.ErrorContext(ctx, "order lost between cancel and recreate",
			slog.String("order_id", orderID),
			slog.String("title", title),
			slog.Float64("intended_price", newPrice),
			slog.String("error", reason),
		)
		return domain.Fail(domain.CodeUnknownError, "recreating the order at the new price failed").
			WithOrderID(orderID).
			WithReason(reason).
			WithMeta("intended_price", newPrice).
			WithSuggestions(fmt.Sprintf("recreate the order for %q at %.2f manually", title, newPrice))
	}
	newID := created[0].OrderID

	entry := OverbidEntry{
		Time:     now,
		OldPrice: currentPrice,
		NewPrice: newPrice,
		Reason:   fmt.Sprintf("competitor ahead at %.2f", best),
	}

	c.mu.Lock()
	st.history = append(st.history, entry)
	delete(c.states, orderID)
	c.states[newID] = st
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "overbid executed",
		slog.String("old_order_id", orderID),
		slog.String("new_order_id", newID),
		slog.Float64("old_price", currentPrice),
		slog.Float64("new_price", newPrice),
		slog.Float64("best_competitor", best),
	)

	return domain.OK(fmt.Sprintf("raised price from %.2f to %.2f", currentPrice, newPrice)).
		WithOrderID(newID).
		WithMeta("state", string(CheckOverbidExecuted)).
		WithMeta("old_order_id", orderID).
		WithMeta("old_price", currentPrice).
		WithMeta("new_price", newPrice).
		WithMeta("best_competitor", best).
		WithMeta("overbids_today", daily+1)
}

// bestCompetitorPrice returns the highest market bid that is not the
// caller's own order. Prices within SelfPriceEpsilon of the current price
// are treated as our own not-yet-reflected order to avoid self-competing.
func (c *OverbidController) bestCompetitorPrice(market []domain.MarketOrder, orderID string, currentPrice float64) float64 {
	var best float64
	for _, m := range market {
		if m.OrderID == orderID {
			continue
		}
		if math.Abs(m.Price-currentPrice) <= c.cfg.SelfPriceEpsilon {
			continue
		}
		if m.Price > best {
			best = m.Price
		}
	}
	return best
}

// lookupOwnOrder recovers the amount and attrs of the order being replaced
// so the recreated order matches it. Falls back to amount 1 when the order
// cannot be found (e.g. the listing endpoint is lagging).
func (c *OverbidController) lookupOwnOrder(ctx context.Context, game domain.Game, title, orderID string) (int, *domain.TargetAttrs) {
	own, err := c.exchange.ListOwnOrders(ctx, game, domain.OrderStatusActive, title)
	if err != nil {
		c.logger.WarnContext(ctx, "own-order lookup before recreate failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return 1, nil
	}
	for _, o := range own {
		if o.ID == orderID {
			amount := o.Amount
			if amount < 1 {
				amount = 1
			}
			return amount, o.Attrs
		}
	}
	return 1, nil
}

// InitialPrice returns the latched initial price for a tracked order.
func (c *OverbidController) InitialPrice(orderID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[orderID]
	if !ok {
		return 0, false
	}
	return st.initialPrice, true
}

// History returns a copy of the raise history for a tracked order.
func (c *OverbidController) History(orderID string) []OverbidEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[orderID]
	if !ok || len(st.history) == 0 {
		return nil
	}
	out := make([]OverbidEntry, len(st.history))
	copy(out, st.history)
	return out
}

// Migrate moves the tracking record from oldID to newID. Used when a
// cancel-and-recreate happened outside this controller.
func (c *OverbidController) Migrate(oldID, newID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[oldID]
	if !ok {
		return false
	}
	delete(c.states, oldID)
	c.states[newID] = st
	return true
}

// Cleanup drops tracking records whose last check is older than maxAge and
// returns the dropped raise histories keyed by order id so the caller can
// archive them. Records are never garbage-collected implicitly; this is the
// explicit sweep.
func (c *OverbidController) Cleanup(maxAge time.Duration) map[string][]OverbidEntry {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := make(map[string][]OverbidEntry)
	for id, st := range c.states {
		if st.lastCheck.Before(cutoff) {
			dropped[id] = st.history
			delete(c.states, id)
		}
	}
	return dropped
}
