package target

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/targetlab/dmbot/internal/domain"
)

// MaxBatchItems is the marketplace's cap on items per composite order.
const MaxBatchItems = 100

// BatchItem is one item variant inside a composite buy-order. Weight
// controls the item's share of the total price and amount; non-positive
// weights count as 1.
type BatchItem struct {
	Title  string
	Weight float64
	Attrs  *domain.TargetAttrs
}

// BatchRequest describes a composite buy-order spanning several variants.
// SharedAttrs apply to every item; per-item attrs override shared fields.
type BatchRequest struct {
	Game        domain.Game
	Items       []BatchItem
	TotalPrice  float64
	TotalAmount int
	SharedAttrs *domain.TargetAttrs
}

// ExistingOrders reports what already sits on the book for a title, both
// the caller's own orders and the competition.
type ExistingOrders struct {
	CanCreate        bool
	ExistingOrderID  string
	ExistingPrice    float64
	Reason           string
	Competitors      int
	BestPrice        float64
	AveragePrice     float64
	RecommendedPrice float64
}

// BatchItemOutcome is the per-item result of a composite placement.
type BatchItemOutcome struct {
	Title   string
	Price   float64
	Amount  int
	OrderID string
	Created bool
	Error   string
}

// DuplicateCheck reports whether a proposed price collides with one of the
// caller's existing orders for the same title.
type DuplicateCheck struct {
	IsDuplicate    bool
	MatchedOrderID string
	MatchedPrice   float64
	Reason         string
}

// BatchOperations creates composite multi-item orders and answers
// duplicate/existing-order queries against the order book.
type BatchOperations struct {
	exchange domain.Exchange
	limits   Limits
	logger   *slog.Logger
}

// NewBatchOperations creates a BatchOperations bound to the given exchange.
func NewBatchOperations(exchange domain.Exchange, limits Limits, logger *slog.Logger) *BatchOperations {
	return &BatchOperations{
		exchange: exchange,
		limits:   limits,
		logger:   logger.With(slog.String("component", "batch_ops")),
	}
}

// CreateBatchTarget validates and places one composite order. Price and
// amount are split across items proportionally to their weights; each item
// receives at least amount 1. Items that fail validation are excluded from
// the placement request and reported in the per-item outcome list.
func (b *BatchOperations) CreateBatchTarget(ctx context.Context, req BatchRequest) domain.OperationResult {
	if len(req.Items) == 0 {
		return domain.Fail(domain.CodeInvalidAttributes, "batch contains no items").
			WithSuggestions("add at least one item to the batch")
	}
	if len(req.Items) > MaxBatchItems {
		return domain.Fail(domain.CodeOrderLimitReached,
			fmt.Sprintf("batch of %d items exceeds the limit of %d", len(req.Items), MaxBatchItems)).
			WithSuggestions(fmt.Sprintf("split the request into batches of at most %d items", MaxBatchItems))
	}

	var weightSum float64
	weights := make([]float64, len(req.Items))
	for i, item := range req.Items {
		w := item.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		weightSum += w
	}

	outcomes := make([]BatchItemOutcome, len(req.Items))

	var specs []domain.OrderSpec
	specIdx := make([]int, 0, len(req.Items))
	for i, item := range req.Items {
		share := weights[i] / weightSum
		price := req.TotalPrice * share
		amount := int(math.Round(float64(req.TotalAmount) * share))
		if amount < 1 {
			amount = 1
		}

		attrs := mergeAttrs(req.SharedAttrs, item.Attrs)
		outcomes[i] = BatchItemOutcome{Title: item.Title, Price: price, Amount: amount}

		draft := domain.TargetDraft{
			Game:   req.Game,
			Title:  item.Title,
			Price:  price,
			Amount: amount,
			Attrs:  attrs,
		}
		if res := ValidateComplete(draft, b.limits); !res.Success {
			outcomes[i].Error = res.Message
			continue
		}

		specs = append(specs, domain.OrderSpec{
			Title:  item.Title,
			Price:  price,
			Amount: amount,
			Attrs:  attrs,
		})
		specIdx = append(specIdx, i)
	}

	if len(specs) == 0 {
		return domain.Fail(domain.CodeInvalidAttributes, "no batch item passed validation").
			WithMeta("items", outcomes).
			WithSuggestions("fix the per-item validation errors and retry")
	}

	results, err := b.exchange.CreateOrders(ctx, req.Game, specs)
	if err != nil {
		b.logger.WarnContext(ctx, "batch placement failed",
			slog.String("game", string(req.Game)),
			slog.Int("items", len(specs)),
			slog.String("error", err.Error()),
		)
		return domain.Fail(domain.CodeUnknownError, "batch placement failed").
			WithReason(err.Error()).
			WithSuggestions("retry once the marketplace is reachable")
	}

	created := 0
	for i, r := range results {
		if i >= len(specIdx) {
			break
		}
		out := &outcomes[specIdx[i]]
		out.OrderID = r.OrderID
		out.Created = r.Created
		out.Error = r.Error
		if r.Created {
			created++
		}
	}

	switch {
	case created == len(req.Items):
		return domain.OK(fmt.Sprintf("created %d orders", created)).
			WithMeta("items", outcomes).
			WithMeta("created", created)
	case created > 0:
		res := domain.OK(fmt.Sprintf("created %d of %d orders", created, len(req.Items)))
		res.Status = domain.StatusPartial
		return res.
			WithMeta("items", outcomes).
			WithMeta("created", created).
			WithSuggestions("inspect the per-item outcomes and retry the failed items")
	default:
		return domain.Fail(domain.CodeUnknownError, "no order in the batch was created").
			WithMeta("items", outcomes).
			WithSuggestions("inspect the per-item outcomes and retry")
	}
}

// DetectExistingOrders inspects both the caller's own orders and the public
// book for a title. A transport failure on either query degrades to the
// information available from the other; the method never returns an error.
func (b *BatchOperations) DetectExistingOrders(ctx context.Context, game domain.Game, title string) ExistingOrders {
	info := ExistingOrders{CanCreate: true}

	own, err := b.exchange.ListOwnOrders(ctx, game, domain.OrderStatusActive, title)
	if err != nil {
		b.logger.WarnContext(ctx, "own-order lookup failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	} else {
		for _, o := range own {
			if !strings.EqualFold(o.Title, title) {
				continue
			}
			info.CanCreate = false
			info.ExistingOrderID = o.ID
			info.ExistingPrice = o.Price
			info.Reason = fmt.Sprintf("an active order for %q already exists at %.2f", title, o.Price)
			break
		}
	}

	market, err := b.exchange.ListOrdersByTitle(ctx, game, title)
	if err != nil {
		b.logger.WarnContext(ctx, "market-order lookup failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return info
	}

	var sum float64
	for _, m := range market {
		info.Competitors++
		sum += m.Price
		// Buy-orders compete upward: the highest standing bid wins.
		if m.Price > info.BestPrice {
			info.BestPrice = m.Price
		}
	}
	if info.Competitors > 0 {
		info.AveragePrice = sum / float64(info.Competitors)
		info.RecommendedPrice = info.BestPrice + PriceStep
	}
	return info
}

// CheckDuplicateOrder compares a proposed price against the caller's
// existing orders for the same title. A match within tolerance (absolute
// currency units) is a duplicate.
func (b *BatchOperations) CheckDuplicateOrder(ctx context.Context, game domain.Game, title string, price, tolerance float64) DuplicateCheck {
	own, err := b.exchange.ListOwnOrders(ctx, game, domain.OrderStatusActive, title)
	if err != nil {
		b.logger.WarnContext(ctx, "duplicate check lookup failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return DuplicateCheck{}
	}

	for _, o := range own {
		if !strings.EqualFold(o.Title, title) {
			continue
		}
		if math.Abs(o.Price-price) <= tolerance {
			return DuplicateCheck{
				IsDuplicate:    true,
				MatchedOrderID: o.ID,
				MatchedPrice:   o.Price,
				Reason: fmt.Sprintf("proposed price %.2f is within %.2f of existing order at %.2f",
					price, tolerance, o.Price),
			}
		}
	}
	return DuplicateCheck{}
}

// mergeAttrs overlays item attrs on top of shared attrs. Set fields on the
// item side win; the inputs are not mutated.
func mergeAttrs(shared, item *domain.TargetAttrs) *domain.TargetAttrs {
	if shared == nil && item == nil {
		return nil
	}
	out := domain.TargetAttrs{}
	if shared != nil {
		out = *shared
	}
	if item != nil {
		if item.FloatPartFrom != nil {
			out.FloatPartFrom = item.FloatPartFrom
		}
		if item.FloatPartTo != nil {
			out.FloatPartTo = item.FloatPartTo
		}
		if item.PaintSeed != nil {
			out.PaintSeed = item.PaintSeed
		}
		if item.Phase != "" {
			out.Phase = item.Phase
		}
		if len(item.Exteriors) > 0 {
			out.Exteriors = item.Exteriors
		}
	}
	return &out
}

