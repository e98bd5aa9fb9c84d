package target

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/targetlab/dmbot/internal/domain"
)

// ManagerConfig carries the orchestrator's own knobs. Controller configs
// live with their controllers; a controller left unconfigured is disabled
// and its pass-through returns nil.
type ManagerConfig struct {
	Limits             Limits
	CheckDuplicates    bool    // run the duplicate gate even when the request does not ask for it
	DuplicateTolerance float64 // absolute price tolerance of the duplicate gate
	SellFeePercent     float64 // marketplace sell-side fee used by smart targets

	// Defaults applied when registering a fresh order with the monitor.
	RangeBandPercent  float64 // band half-width around the order price
	RangeAction       BreachAction
	RangePollInterval time.Duration
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Limits:             DefaultLimits(),
		CheckDuplicates:    true,
		DuplicateTolerance: 0.05,
		SellFeePercent:     5,
		RangeBandPercent:   20,
		RangeAction:        BreachActionNotify,
		RangePollInterval:  5 * time.Minute,
	}
}

// EnhancedRequest is the input to CreateTargetEnhanced.
type EnhancedRequest struct {
	Game            domain.Game
	Title           string
	Price           float64
	Amount          int
	Attrs           *domain.TargetAttrs
	Sticker         *domain.StickerFilter
	Rarity          *domain.RarityFilter
	CheckDuplicates bool
}

// SmartItem is one candidate for CreateSmartTargets.
type SmartItem struct {
	Game            domain.Game
	Title           string
	Amount          int
	HighCompetition bool
}

// TargetManager is the public entry point of the core. It wires the
// controllers together, runs the creation workflow, and keeps their
// tracking records consistent across cancel-and-recreate cycles.
type TargetManager struct {
	cfg      ManagerConfig
	exchange domain.Exchange
	batch    *BatchOperations
	overbid  *OverbidController // nil when disabled
	relist   *RelistManager     // nil when disabled
	monitor  *PriceRangeMonitor // nil when disabled
	events   domain.TargetEventStore
	bus      domain.SignalBus
	limiter  domain.RateLimiter
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewTargetManager creates a manager with only the mandatory dependencies.
// Controllers and collaborators are attached with the With* methods; each
// one is strictly optional and independently togglable.
func NewTargetManager(cfg ManagerConfig, exchange domain.Exchange, logger *slog.Logger) *TargetManager {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.DuplicateTolerance <= 0 {
		cfg.DuplicateTolerance = DefaultManagerConfig().DuplicateTolerance
	}
	if !cfg.RangeAction.Valid() {
		cfg.RangeAction = BreachActionNotify
	}
	if cfg.RangePollInterval <= 0 {
		cfg.RangePollInterval = DefaultManagerConfig().RangePollInterval
	}
	lg := logger.With(slog.String("component", "target_manager"))
	return &TargetManager{
		cfg:      cfg,
		exchange: exchange,
		batch:    NewBatchOperations(exchange, cfg.Limits, logger),
		logger:   lg,
	}
}

// WithOverbid attaches an overbid controller.
func (t *TargetManager) WithOverbid(c *OverbidController) *TargetManager {
	t.overbid = c
	return t
}

// WithRelist attaches a relist manager.
func (t *TargetManager) WithRelist(m *RelistManager) *TargetManager {
	t.relist = m
	return t
}

// WithMonitor attaches a price range monitor.
func (t *TargetManager) WithMonitor(m *PriceRangeMonitor) *TargetManager {
	t.monitor = m
	return t
}

// WithEventStore attaches the lifecycle journal.
func (t *TargetManager) WithEventStore(s domain.TargetEventStore) *TargetManager {
	t.events = s
	return t
}

// WithSignalBus attaches the event bus.
func (t *TargetManager) WithSignalBus(b domain.SignalBus) *TargetManager {
	t.bus = b
	return t
}

// WithRateLimiter attaches a limiter guarding creation calls.
func (t *TargetManager) WithRateLimiter(l domain.RateLimiter) *TargetManager {
	t.limiter = l
	return t
}

// WithArchiver attaches long-term storage for swept history.
func (t *TargetManager) WithArchiver(a domain.Archiver) *TargetManager {
	t.archiver = a
	return t
}

// Batch exposes the batch operations for callers that need the raw
// duplicate/existing-order queries.
func (t *TargetManager) Batch() *BatchOperations {
	return t.batch
}

// CreateTarget is the legacy creation path: no duplicate check, no
// monitor registration, raw per-item placement results. Contract
// violations (empty title, non-positive amount) are returned as errors
// because they indicate a caller bug, not a business outcome.
func (t *TargetManager) CreateTarget(ctx context.Context, game domain.Game, title string, price float64, amount int, attrs *domain.TargetAttrs) ([]domain.OrderCreateResult, error) {
	if title == "" {
		return nil, domain.ErrEmptyTitle
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	results, err := t.exchange.CreateOrders(ctx, game, []domain.OrderSpec{{
		Title:  title,
		Price:  price,
		Amount: amount,
		Attrs:  attrs,
	}})
	if err != nil {
		return nil, fmt.Errorf("target_manager: create target: %w", err)
	}
	return results, nil
}

// CreateTargetEnhanced runs the full creation workflow: duplicate gate
// (requested per call or enabled in the config, matching existing orders
// within DuplicateTolerance of the proposed price), complete validation,
// placement, then monitor registration with the configured defaults. Every
// step short-circuits on the first non-success result.
func (t *TargetManager) CreateTargetEnhanced(ctx context.Context, req EnhancedRequest) domain.OperationResult {
	opID := uuid.NewString()

	if t.limiter != nil {
		allowed, err := t.limiter.Allow(ctx, "targets:create", 10, time.Second)
		if err != nil {
			t.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return domain.Fail(domain.CodeOrderLimitReached, "creation rate limit reached").
				WithMeta("operation_id", opID).
				WithSuggestions("retry in a moment")
		}
	}

	if req.CheckDuplicates || t.cfg.CheckDuplicates {
		dup := t.batch.CheckDuplicateOrder(ctx, req.Game, req.Title, req.Price, t.cfg.DuplicateTolerance)
		if dup.IsDuplicate {
			return domain.Fail(domain.CodeDuplicateOrder, "an order for this title already exists at this price").
				WithReason(dup.Reason).
				WithOrderID(dup.MatchedOrderID).
				WithMeta("operation_id", opID).
				WithMeta("existing_price", dup.MatchedPrice).
				WithMeta("duplicate_tolerance", t.cfg.DuplicateTolerance).
				WithSuggestions("adjust the existing order instead of creating a new one")
		}
	}

	draft := domain.TargetDraft{
		Game:    req.Game,
		Title:   req.Title,
		Price:   req.Price,
		Amount:  req.Amount,
		Attrs:   req.Attrs,
		Sticker: req.Sticker,
		Rarity:  req.Rarity,
	}
	valid := ValidateComplete(draft, t.cfg.Limits)
	if !valid.Success {
		return valid.WithMeta("operation_id", opID)
	}

	created, err := t.exchange.CreateOrders(ctx, req.Game, []domain.OrderSpec{{
		Title:  req.Title,
		Price:  req.Price,
		Amount: req.Amount,
		Attrs:  req.Attrs,
	}})
	if err != nil {
		return domain.Fail(domain.CodeUnknownError, "placement failed").
			WithReason(err.Error()).
			WithMeta("operation_id", opID).
			WithSuggestions("retry once the marketplace is reachable")
	}
	if len(created) == 0 || !created[0].Created {
		reason := "placement returned no created order"
		if len(created) > 0 && created[0].Error != "" {
			reason = created[0].Error
		}
		return domain.Fail(domain.CodeUnknownError, "order was not created").
			WithReason(reason).
			WithMeta("operation_id", opID)
	}
	orderID := created[0].OrderID

	if t.monitor != nil {
		band := req.Price * t.cfg.RangeBandPercent / 100
		rangeCfg := PriceRangeConfig{
			MinPrice:     req.Price - band,
			MaxPrice:     req.Price + band,
			Action:       t.cfg.RangeAction,
			PollInterval: t.cfg.RangePollInterval,
		}
		if rangeCfg.MinPrice <= 0 {
			rangeCfg.MinPrice = PriceStep
		}
		if err := t.monitor.Track(orderID, rangeCfg); err != nil {
			t.logger.WarnContext(ctx, "monitor registration failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}

	t.journal(ctx, orderID, "target_created", map[string]any{
		"operation_id": opID,
		"game":         string(req.Game),
		"title":        req.Title,
		"price":        req.Price,
		"amount":       req.Amount,
	})

	t.logger.InfoContext(ctx, "target created",
		slog.String("order_id", orderID),
		slog.String("title", req.Title),
		slog.Float64("price", req.Price),
	)

	res := domain.OK("target created").
		WithOrderID(orderID).
		WithMeta("operation_id", opID)
	if count, ok := valid.Metadata["condition_count"]; ok {
		res = res.WithMeta("condition_count", count)
	}
	return res
}

// CreateBatchTarget delegates to BatchOperations and journals the outcome.
func (t *TargetManager) CreateBatchTarget(ctx context.Context, req BatchRequest) domain.OperationResult {
	res := t.batch.CreateBatchTarget(ctx, req)
	if res.Success {
		t.journal(ctx, res.OrderID, "batch_created", map[string]any{
			"game":   string(req.Game),
			"items":  len(req.Items),
			"status": string(res.Status),
		})
	}
	return res
}

// CreateSmartTargets derives a target price per candidate from the market
// price, the marketplace sell fee and the desired profit margin, optionally
// raises it just above the best competing order, and places at most
// maxTargets orders. High-competition items are skipped.
func (t *TargetManager) CreateSmartTargets(ctx context.Context, items []SmartItem, profitMargin float64, maxTargets int, checkCompetition bool) []domain.OperationResult {
	if maxTargets <= 0 {
		maxTargets = len(items)
	}
	var results []domain.OperationResult
	placed := 0

	for _, item := range items {
		if placed >= maxTargets {
			break
		}
		if item.HighCompetition {
			t.logger.Debug("skipping high-competition item", slog.String("title", item.Title))
			continue
		}

		agg, err := t.exchange.GetAggregatedPrice(ctx, item.Game, item.Title)
		if err != nil {
			results = append(results, domain.Fail(domain.CodeUnknownError, "market price unavailable").
				WithReason(err.Error()).
				WithMeta("title", item.Title))
			continue
		}
		marketPrice, ok := agg.MidPrice()
		if !ok {
			results = append(results, domain.Fail(domain.CodeUnknownError, "order book is empty").
				WithMeta("title", item.Title))
			continue
		}

		// Work backwards from the expected sale: what we pay now must
		// leave the margin after the marketplace takes its fee.
		targetPrice := marketPrice * (1 - t.cfg.SellFeePercent/100) / (1 + profitMargin/100)

		if checkCompetition {
			info := t.batch.DetectExistingOrders(ctx, item.Game, item.Title)
			if info.BestPrice > 0 && info.RecommendedPrice > targetPrice {
				targetPrice = info.RecommendedPrice
			}
		}

		amount := item.Amount
		if amount <= 0 {
			amount = 1
		}
		res := t.CreateTargetEnhanced(ctx, EnhancedRequest{
			Game:            item.Game,
			Title:           item.Title,
			Price:           targetPrice,
			Amount:          amount,
			CheckDuplicates: true,
		})
		res = res.WithMeta("title", item.Title).WithMeta("target_price", targetPrice)
		results = append(results, res)
		if res.Success {
			placed++
		}
	}
	return results
}

// MonitorAndOverbid runs one overbid check. Returns nil when the overbid
// controller is disabled. When the check replaced the order, tracking in
// the other controllers migrates to the new id.
func (t *TargetManager) MonitorAndOverbid(ctx context.Context, orderID string, game domain.Game, title string, currentPrice float64) *domain.OperationResult {
	if t.overbid == nil {
		return nil
	}
	if !t.overbid.ShouldCheckCompetition(orderID) {
		res := domain.OK("competition check not due").
			WithOrderID(orderID).
			WithMeta("state", string(CheckNotDue))
		return &res
	}

	res := t.overbid.CheckAndOverbid(ctx, orderID, game, title, currentPrice)
	if res.Success && res.OrderID != "" && res.OrderID != orderID {
		t.migrateExceptOverbid(orderID, res.OrderID)
		t.journal(ctx, res.OrderID, "overbid_executed", map[string]any{
			"old_order_id": orderID,
			"metadata":     res.Metadata,
		})
		t.publish(ctx, "targets", map[string]any{
			"event":        "overbid_executed",
			"old_order_id": orderID,
			"new_order_id": res.OrderID,
		})
	}
	return &res
}

// RecordRelist counts one price change against the order's relist budget.
// Returns nil when the relist manager is disabled.
func (t *TargetManager) RecordRelist(ctx context.Context, orderID string, oldPrice, newPrice float64, reason string) *domain.OperationResult {
	if t.relist == nil {
		return nil
	}
	res := t.relist.RecordRelist(ctx, orderID, oldPrice, newPrice, reason)
	if res.Success {
		t.journal(ctx, orderID, "relist_recorded", map[string]any{
			"old_price": oldPrice,
			"new_price": newPrice,
			"reason":    reason,
		})
	}
	return &res
}

// CheckPriceRange runs one band check. Returns nil when the monitor is
// disabled.
func (t *TargetManager) CheckPriceRange(ctx context.Context, orderID string, game domain.Game, title string) *domain.OperationResult {
	if t.monitor == nil {
		return nil
	}
	res := t.monitor.CheckMarketPrice(ctx, orderID, game, title)
	if breach, ok := res.Metadata["breach_type"]; ok {
		t.journal(ctx, orderID, "price_breach", map[string]any{
			"breach_type": breach,
			"action":      res.Metadata["breach_action"],
			"price":       res.Metadata["market_price"],
		})
	}
	return &res
}

// GetRelistStatistics returns the order's relist budget usage, or
// ErrNotTracked when the manager is disabled or the order unknown.
func (t *TargetManager) GetRelistStatistics(orderID string) (RelistStatistics, error) {
	if t.relist == nil {
		return RelistStatistics{}, domain.ErrNotTracked
	}
	return t.relist.Statistics(orderID)
}

// GetPriceHistory returns the monitor's observations for the trailing
// number of hours. Empty when the monitor is disabled.
func (t *TargetManager) GetPriceHistory(orderID string, hours int) []PricePoint {
	if t.monitor == nil {
		return nil
	}
	return t.monitor.GetPriceHistory(orderID, time.Duration(hours)*time.Hour)
}

// GetTargets lists the caller's active orders for a game.
func (t *TargetManager) GetTargets(ctx context.Context, game domain.Game) ([]domain.Order, error) {
	orders, err := t.exchange.ListOwnOrders(ctx, game, domain.OrderStatusActive, "")
	if err != nil {
		return nil, fmt.Errorf("target_manager: list targets: %w", err)
	}
	return orders, nil
}

// DeleteTarget cancels the order and drops every controller's tracking
// record for it.
func (t *TargetManager) DeleteTarget(ctx context.Context, orderID string) domain.OperationResult {
	if err := t.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
		return domain.Fail(domain.CodeUnknownError, "cancel failed").
			WithOrderID(orderID).
			WithReason(err.Error()).
			WithSuggestions("retry once the marketplace is reachable")
	}
	if t.monitor != nil {
		t.monitor.Untrack(orderID)
	}
	t.journal(ctx, orderID, "target_deleted", nil)
	t.publish(ctx, "targets", map[string]any{"event": "target_deleted", "order_id": orderID})
	return domain.OK("target deleted").WithOrderID(orderID)
}

// MigrateTracking moves all controller records from oldID to newID. Call
// it after any cancel-and-recreate performed outside the controllers
// (e.g. after acting on a lower_price suggestion); nothing migrates
// implicitly.
func (t *TargetManager) MigrateTracking(oldID, newID string) {
	if t.overbid != nil {
		t.overbid.Migrate(oldID, newID)
	}
	t.migrateExceptOverbid(oldID, newID)
}

func (t *TargetManager) migrateExceptOverbid(oldID, newID string) {
	if t.relist != nil {
		t.relist.Migrate(oldID, newID)
	}
	if t.monitor != nil {
		t.monitor.Migrate(oldID, newID)
	}
}

// CleanupReport summarizes one sweep of stale tracking state.
type CleanupReport struct {
	OverbidRemoved     int
	RelistRemoved      int
	PricePointsRemoved int
	OrdersUntracked    int
}

// historySnapshot is the archive payload for one swept order: everything the
// controllers knew about it at the moment the sweep dropped it.
type historySnapshot struct {
	TakenAt     time.Time      `json:"taken_at"`
	Overbids    []OverbidEntry `json:"overbids,omitempty"`
	Relists     []RelistEntry  `json:"relists,omitempty"`
	PricePoints []PricePoint   `json:"price_points,omitempty"`
}

// CleanupOldData sweeps tracking records older than the given number of
// days from every controller. When an archiver is attached, the dropped
// histories are exported per order id, together with the order's journal
// slice up to the cutoff.
func (t *TargetManager) CleanupOldData(ctx context.Context, days int) CleanupReport {
	if days <= 0 {
		days = 30
	}
	maxAge := time.Duration(days) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)
	var report CleanupReport

	swept := make(map[string]*historySnapshot)
	snap := func(orderID string) *historySnapshot {
		s, ok := swept[orderID]
		if !ok {
			s = &historySnapshot{TakenAt: time.Now().UTC()}
			swept[orderID] = s
		}
		return s
	}

	if t.overbid != nil {
		dropped := t.overbid.Cleanup(maxAge)
		report.OverbidRemoved = len(dropped)
		for id, entries := range dropped {
			snap(id).Overbids = entries
		}
	}
	if t.relist != nil {
		dropped := t.relist.Cleanup(maxAge)
		report.RelistRemoved = len(dropped)
		for id, entries := range dropped {
			snap(id).Relists = entries
		}
	}
	if t.monitor != nil {
		points, orders, dropped := t.monitor.Cleanup(maxAge)
		report.PricePointsRemoved = points
		report.OrdersUntracked = orders
		for id, pts := range dropped {
			snap(id).PricePoints = pts
		}
	}

	if t.archiver != nil {
		t.archiveSwept(ctx, swept, cutoff)
	}

	t.logger.InfoContext(ctx, "cleanup finished",
		slog.Int("overbid_removed", report.OverbidRemoved),
		slog.Int("relist_removed", report.RelistRemoved),
		slog.Int("price_points_removed", report.PricePointsRemoved),
	)
	return report
}

// archiveSwept exports each dropped history snapshot under its order id and
// follows up with the order's journal slice. Failed uploads are logged; the
// sweep itself has already happened and is not rolled back.
func (t *TargetManager) archiveSwept(ctx context.Context, swept map[string]*historySnapshot, cutoff time.Time) {
	for orderID, snap := range swept {
		if len(snap.Overbids) == 0 && len(snap.Relists) == 0 && len(snap.PricePoints) == 0 {
			continue
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := t.archiver.ArchiveHistory(ctx, orderID, payload); err != nil {
			t.logger.WarnContext(ctx, "history archive failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := t.archiver.ArchiveEvents(ctx, orderID, cutoff); err != nil {
			t.logger.WarnContext(ctx, "journal archive failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// journal writes a lifecycle event best-effort.
func (t *TargetManager) journal(ctx context.Context, orderID, event string, detail map[string]any) {
	if t.events == nil {
		return
	}
	if err := t.events.Log(ctx, orderID, event, detail); err != nil {
		t.logger.WarnContext(ctx, "journal write failed",
			slog.String("event", event),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// publish emits a lifecycle event on the bus best-effort.
func (t *TargetManager) publish(ctx context.Context, channel string, payload map[string]any) {
	if t.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, channel, data); err != nil {
		t.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
