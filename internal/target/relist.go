package target

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
)

// LimitAction is what the RelistManager does when an order hits its
// relist budget for the current window.
type LimitAction string

const (
	LimitActionPause      LimitAction = "pause"
	LimitActionCancel     LimitAction = "cancel"
	LimitActionLowerPrice LimitAction = "lower_price"
	LimitActionNotify     LimitAction = "notify"
)

// Valid reports whether the action is one of the known kinds.
func (a LimitAction) Valid() bool {
	switch a {
	case LimitActionPause, LimitActionCancel, LimitActionLowerPrice, LimitActionNotify:
		return true
	}
	return false
}

// RelistConfig bounds how often an order's price may be changed inside a
// rolling window and what happens when the budget is spent.
type RelistConfig struct {
	Enabled           bool
	MaxRelists        int
	ResetPeriod       time.Duration
	Action            LimitAction
	LowerPricePercent float64 // only used with LimitActionLowerPrice
}

// DefaultRelistConfig returns production defaults: three relists per
// 24-hour window, notify-only on the limit.
func DefaultRelistConfig() RelistConfig {
	return RelistConfig{
		Enabled:     true,
		MaxRelists:  3,
		ResetPeriod: 24 * time.Hour,
		Action:      LimitActionNotify,
	}
}

// RelistEntry is one recorded price change.
type RelistEntry struct {
	Time     time.Time
	OldPrice float64
	NewPrice float64
	Reason   string
}

// relistState tracks one order's rolling relist count. paused is sticky
// until Unpause or the window reset.
type relistState struct {
	count       int
	windowStart time.Time
	lastRelist  time.Time
	paused      bool
	history     []RelistEntry
}

// RelistStatistics summarizes an order's relist budget for operators.
type RelistStatistics struct {
	OrderID       string
	Count         int
	MaxRelists    int
	Remaining     int
	Paused        bool
	TimeToReset   string
	NextPrice     float64 // naive forecast: last price + one increment
	HasForecast   bool
	LastRelistAt  time.Time
	WindowStartAt time.Time
}

// Notifier is the narrow notification capability the controllers use for
// their notify actions. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RelistManager counts price changes per order inside a rolling reset
// window and applies the configured action once the limit is reached.
// Callers must serialize invocations per order id.
type RelistManager struct {
	cfg      RelistConfig
	exchange domain.Exchange
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*relistState
}

// NewRelistManager creates a manager bound to the given exchange. notifier
// may be nil; the notify action then only produces a suggestion payload.
func NewRelistManager(cfg RelistConfig, exchange domain.Exchange, notifier Notifier, logger *slog.Logger) *RelistManager {
	if cfg.MaxRelists <= 0 {
		cfg.MaxRelists = DefaultRelistConfig().MaxRelists
	}
	if cfg.ResetPeriod <= 0 {
		cfg.ResetPeriod = DefaultRelistConfig().ResetPeriod
	}
	if !cfg.Action.Valid() {
		cfg.Action = LimitActionNotify
	}
	return &RelistManager{
		cfg:      cfg,
		exchange: exchange,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "relist")),
		states:   make(map[string]*relistState),
	}
}

// ensureLocked returns the state for orderID, creating it on first
// reference and applying the rolling-window reset. Caller holds m.mu.
func (m *RelistManager) ensureLocked(orderID string, now time.Time) *relistState {
	st, ok := m.states[orderID]
	if !ok {
		st = &relistState{windowStart: now}
		m.states[orderID] = st
		return st
	}
	if now.Sub(st.windowStart) >= m.cfg.ResetPeriod {
		st.count = 0
		st.windowStart = now
		st.paused = false
	}
	return st
}

// CanRelist reports whether another price change is allowed right now.
func (m *RelistManager) CanRelist(orderID string) bool {
	if !m.cfg.Enabled {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.ensureLocked(orderID, time.Now())
	return !st.paused && st.count < m.cfg.MaxRelists
}

// RecordRelist records one price change for the order. When the recorded
// change spends the last unit of the budget, the configured limit action
// runs as part of the same call. A call that arrives with the budget
// already spent is rejected with ORDER_LIMIT_REACHED.
func (m *RelistManager) RecordRelist(ctx context.Context, orderID string, oldPrice, newPrice float64, reason string) domain.OperationResult {
	if !m.cfg.Enabled {
		return domain.Fail(domain.CodeUnknownError, "relist manager is disabled")
	}
	now := time.Now()

	m.mu.Lock()
	st := m.ensureLocked(orderID, now)

	if st.paused {
		resetIn := m.timeToResetLocked(st, now)
		m.mu.Unlock()
		return domain.Fail(domain.CodeOrderLimitReached, "order is paused after hitting the relist limit").
			WithOrderID(orderID).
			WithSuggestions("unpause the order explicitly", fmt.Sprintf("or wait %s for the window to reset", resetIn))
	}
	if st.count >= m.cfg.MaxRelists {
		resetIn := m.timeToResetLocked(st, now)
		m.mu.Unlock()
		return domain.Fail(domain.CodeOrderLimitReached,
			fmt.Sprintf("relist limit reached: %d/%d", st.count, m.cfg.MaxRelists)).
			WithOrderID(orderID).
			WithMeta("relist_count", m.cfg.MaxRelists).
			WithSuggestions(fmt.Sprintf("wait %s for the window to reset", resetIn))
	}

	st.count++
	st.lastRelist = now
	st.history = append(st.history, RelistEntry{
		Time:     now,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Reason:   reason,
	})
	count := st.count
	limitHit := count >= m.cfg.MaxRelists
	m.mu.Unlock()

	res := domain.OK(fmt.Sprintf("relist %d/%d recorded", count, m.cfg.MaxRelists)).
		WithOrderID(orderID).
		WithMeta("relist_count", count).
		WithMeta("remaining_relists", m.cfg.MaxRelists-count)

	if limitHit {
		res = m.applyLimitAction(ctx, orderID, newPrice, res)
	}
	return res
}

// applyLimitAction runs the configured action after the budget is spent
// and annotates the result with what happened.
func (m *RelistManager) applyLimitAction(ctx context.Context, orderID string, currentPrice float64, res domain.OperationResult) domain.OperationResult {
	res = res.WithMeta("limit_action", string(m.cfg.Action))

	switch m.cfg.Action {
	case LimitActionPause:
		m.mu.Lock()
		if st, ok := m.states[orderID]; ok {
			st.paused = true
		}
		m.mu.Unlock()
		m.logger.Info("order paused at relist limit", slog.String("order_id", orderID))
		return res.WithMeta("paused", true).
			WithSuggestions("further relists are blocked until unpause or window reset")

	case LimitActionCancel:
		if err := m.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
			m.logger.WarnContext(ctx, "cancel at relist limit failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			return res.WithMeta("cancelled", false).
				WithSuggestions("cancel the order manually: " + err.Error())
		}
		m.logger.InfoContext(ctx, "order cancelled at relist limit", slog.String("order_id", orderID))
		return res.WithMeta("cancelled", true)

	case LimitActionLowerPrice:
		lowered := currentPrice * (1 - m.cfg.LowerPricePercent/100)
		m.logger.Info("relist limit hit, lower price computed",
			slog.String("order_id", orderID),
			slog.Float64("current_price", currentPrice),
			slog.Float64("suggested_price", lowered),
		)
		// Cancel-and-recreate at the lowered price is left to the caller.
		return res.WithMeta("suggested_price", lowered).
			WithSuggestions(fmt.Sprintf("recreate the order at %.2f", lowered))

	default: // LimitActionNotify
		msg := fmt.Sprintf("order %s spent its relist budget (%d per %s)", orderID, m.cfg.MaxRelists, m.cfg.ResetPeriod)
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, "relist_limit", "Relist limit reached", msg); err != nil {
				m.logger.WarnContext(ctx, "relist limit notification failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
			}
		}
		return res.WithSuggestions(msg)
	}
}

// Unpause lifts a sticky pause without touching the counter.
func (m *RelistManager) Unpause(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[orderID]
	if !ok || !st.paused {
		return false
	}
	st.paused = false
	return true
}

// Reset clears the counter, restarts the window, and lifts any pause.
func (m *RelistManager) Reset(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[orderID]
	if !ok {
		return
	}
	st.count = 0
	st.windowStart = time.Now()
	st.paused = false
}

// Statistics returns the order's current budget usage, a human-readable
// time until the window resets, and a naive next-price forecast (last
// recorded price plus one increment) when history exists.
func (m *RelistManager) Statistics(orderID string) (RelistStatistics, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[orderID]
	if !ok {
		return RelistStatistics{}, domain.ErrNotTracked
	}

	stats := RelistStatistics{
		OrderID:       orderID,
		Count:         st.count,
		MaxRelists:    m.cfg.MaxRelists,
		Remaining:     m.cfg.MaxRelists - st.count,
		Paused:        st.paused,
		TimeToReset:   m.timeToResetLocked(st, now),
		LastRelistAt:  st.lastRelist,
		WindowStartAt: st.windowStart,
	}
	if stats.Remaining < 0 {
		stats.Remaining = 0
	}
	if n := len(st.history); n > 0 {
		stats.NextPrice = st.history[n-1].NewPrice + PriceStep
		stats.HasForecast = true
	}
	return stats, nil
}

// History returns a copy of the order's recorded price changes.
func (m *RelistManager) History(orderID string) []RelistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[orderID]
	if !ok || len(st.history) == 0 {
		return nil
	}
	out := make([]RelistEntry, len(st.history))
	copy(out, st.history)
	return out
}

// Migrate moves the tracking record from oldID to newID after an external
// cancel-and-recreate.
func (m *RelistManager) Migrate(oldID, newID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[oldID]
	if !ok {
		return false
	}
	delete(m.states, oldID)
	m.states[newID] = st
	return true
}

// Cleanup drops records whose last relist is older than maxAge and returns
// the dropped price-change histories keyed by order id so the caller can
// archive them.
func (m *RelistManager) Cleanup(maxAge time.Duration) map[string][]RelistEntry {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := make(map[string][]RelistEntry)
	for id, st := range m.states {
		last := st.lastRelist
		if last.IsZero() {
			last = st.windowStart
		}
		if last.Before(cutoff) {
			dropped[id] = st.history
			delete(m.states, id)
		}
	}
	return dropped
}

// timeToResetLocked formats the remaining window time. Caller holds m.mu.
func (m *RelistManager) timeToResetLocked(st *relistState, now time.Time) string {
	left := st.windowStart.Add(m.cfg.ResetPeriod).Sub(now)
	if left <= 0 {
		return "now"
	}
	return left.Round(time.Minute).String()
}
