package dmarket

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/targetlab/dmbot/internal/domain"
)

// Marketplace game identifiers. The API addresses games by opaque ids, not
// by the human-readable slugs the rest of the bot uses.
var gameIDs = map[domain.Game]string{
	domain.GameCSGO:  "a8db",
	domain.GameDota2: "9a92",
	domain.GameRust:  "rust",
	domain.GameTF2:   "tf2",
}

var gamesByID = func() map[string]domain.Game {
	m := make(map[string]domain.Game, len(gameIDs))
	for g, id := range gameIDs {
		m[id] = g
	}
	return m
}()

// GameID returns the marketplace id for a game.
func GameID(game domain.Game) (string, error) {
	id, ok := gameIDs[game]
	if !ok {
		return "", fmt.Errorf("dmarket: unknown game %q", game)
	}
	return id, nil
}

// Target status values on the wire.
const (
	wireStatusActive    = "TargetStatusActive"
	wireStatusInactive  = "TargetStatusInactive"
	wireStatusExecuted  = "TargetStatusExecuted"
	wireStatusCancelled = "TargetStatusCancelled"
	wireStatusFailed    = "TargetStatusFailed"
)

var statusToWire = map[domain.OrderStatus]string{
	domain.OrderStatusActive:    wireStatusActive,
	domain.OrderStatusInactive:  wireStatusInactive,
	domain.OrderStatusExecuted:  wireStatusExecuted,
	domain.OrderStatusCancelled: wireStatusCancelled,
	domain.OrderStatusFailed:    wireStatusFailed,
}

var statusFromWire = map[string]domain.OrderStatus{
	wireStatusActive:    domain.OrderStatusActive,
	wireStatusInactive:  domain.OrderStatusInactive,
	wireStatusExecuted:  domain.OrderStatusExecuted,
	wireStatusCancelled: domain.OrderStatusCancelled,
	wireStatusFailed:    domain.OrderStatusFailed,
}

// apiMoney is the marketplace money representation: an integer number of
// cents carried as a string, plus a currency code.
type apiMoney struct {
	Currency string `json:"Currency"`
	Amount   string `json:"Amount"`
}

var centFactor = decimal.NewFromInt(100)

// moneyFromPrice converts a float USD price into the wire representation.
// The conversion goes through decimal so 10.50 becomes exactly "1050" and
// never "1049.9999...".
func moneyFromPrice(price float64) apiMoney {
	cents := decimal.NewFromFloat(price).Mul(centFactor).Round(0)
	return apiMoney{Currency: "USD", Amount: cents.String()}
}

// Price converts the wire money back into a float USD price.
func (m apiMoney) Price() (float64, error) {
	cents, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return 0, fmt.Errorf("dmarket: money amount %q: %w", m.Amount, err)
	}
	f, _ := cents.Div(centFactor).Float64()
	return f, nil
}

// parseCents parses a bare cent-string price field (endpoints that return
// prices without the currency envelope).
func parseCents(s string) (float64, error) {
	return apiMoney{Amount: s}.Price()
}

// apiTargetAttrs mirrors domain.TargetAttrs on the wire. Absent optional
// fields are omitted entirely so the marketplace does not treat a zero as a
// constraint.
type apiTargetAttrs struct {
	FloatPartFrom *float64 `json:"FloatPartFrom,omitempty"`
	FloatPartTo   *float64 `json:"FloatPartTo,omitempty"`
	PaintSeed     *int     `json:"PaintSeed,omitempty"`
	Phase         string   `json:"Phase,omitempty"`
	Exteriors     []string `json:"Exteriors,omitempty"`
}

func attrsToWire(a *domain.TargetAttrs) *apiTargetAttrs {
	if a == nil {
		return nil
	}
	return &apiTargetAttrs{
		FloatPartFrom: a.FloatPartFrom,
		FloatPartTo:   a.FloatPartTo,
		PaintSeed:     a.PaintSeed,
		Phase:         a.Phase,
		Exteriors:     a.Exteriors,
	}
}

func (a *apiTargetAttrs) toDomain() *domain.TargetAttrs {
	if a == nil {
		return nil
	}
	return &domain.TargetAttrs{
		FloatPartFrom: a.FloatPartFrom,
		FloatPartTo:   a.FloatPartTo,
		PaintSeed:     a.PaintSeed,
		Phase:         a.Phase,
		Exteriors:     a.Exteriors,
	}
}

// apiTargetSpec is one order in a placement request.
type apiTargetSpec struct {
	Title  string          `json:"Title"`
	Amount int             `json:"Amount"`
	Price  apiMoney        `json:"Price"`
	Attrs  *apiTargetAttrs `json:"Attrs,omitempty"`
}

// createTargetsRequest is the body of POST /marketplace-api/v1/user-targets/create.
type createTargetsRequest struct {
	GameID  string          `json:"GameID"`
	Targets []apiTargetSpec `json:"Targets"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// apiCreateResult reports the outcome for one spec of a placement request.
type apiCreateResult struct {
	CreateTarget apiTargetSpec `json:"CreateTarget"`
	TargetID     string        `json:"TargetID"`
	Successful   bool          `json:"Successful"`
	Error        *apiError     `json:"Error,omitempty"`
}

type createTargetsResponse struct {
	Result []apiCreateResult `json:"Result"`
}

func (r apiCreateResult) toDomain() domain.OrderCreateResult {
	out := domain.OrderCreateResult{
		Title:   r.CreateTarget.Title,
		OrderID: r.TargetID,
		Created: r.Successful,
	}
	if r.Error != nil && r.Error.Message != "" {
		out.Error = r.Error.Message
	} else if r.Error != nil {
		out.Error = r.Error.Code
	}
	return out
}

// deleteTargetsRequest is the body of POST /marketplace-api/v1/user-targets/delete.
type deleteTargetsRequest struct {
	Targets []deleteTargetRef `json:"Targets"`
}

type deleteTargetRef struct {
	TargetID string `json:"TargetID"`
}

type deleteTargetsResponse struct {
	Result []struct {
		TargetID   string    `json:"TargetID"`
		Successful bool      `json:"Successful"`
		Error      *apiError `json:"Error,omitempty"`
	} `json:"Result"`
}

// apiUserTarget is one of the caller's own standing targets as returned by
// GET /marketplace-api/v1/user-targets.
type apiUserTarget struct {
	TargetID  string          `json:"TargetID"`
	GameID    string          `json:"GameID"`
	Title     string          `json:"Title"`
	Amount    int             `json:"Amount"`
	Price     apiMoney        `json:"Price"`
	Status    string          `json:"Status"`
	Attrs     *apiTargetAttrs `json:"Attrs,omitempty"`
	CreatedAt int64           `json:"CreatedAt"` // unix seconds
}

func (t apiUserTarget) toDomain() (domain.Order, error) {
	price, err := t.Price.Price()
	if err != nil {
		return domain.Order{}, fmt.Errorf("dmarket: target %s: %w", t.TargetID, err)
	}
	status, ok := statusFromWire[t.Status]
	if !ok {
		status = domain.OrderStatusInactive
	}
	return domain.Order{
		ID:        t.TargetID,
		Game:      gamesByID[t.GameID],
		Title:     t.Title,
		Price:     price,
		Amount:    t.Amount,
		Status:    status,
		Attrs:     t.Attrs.toDomain(),
		CreatedAt: time.Unix(t.CreatedAt, 0).UTC(),
	}, nil
}

type userTargetsResponse struct {
	Items  []apiUserTarget `json:"Items"`
	Cursor string          `json:"Cursor"`
	Total  string          `json:"Total"`
}

// apiBookOrder is a competing buy-order on the public book, from
// GET /marketplace-api/v1/targets-by-title/{gameID}/{title}.
type apiBookOrder struct {
	OrderID string `json:"OrderID"`
	Title   string `json:"Title"`
	Price   string `json:"Price"` // cents
	Amount  int    `json:"Amount"`
}

func (o apiBookOrder) toDomain() (domain.MarketOrder, error) {
	price, err := parseCents(o.Price)
	if err != nil {
		return domain.MarketOrder{}, fmt.Errorf("dmarket: book order %s: %w", o.OrderID, err)
	}
	return domain.MarketOrder{
		OrderID: o.OrderID,
		Title:   o.Title,
		Price:   price,
		Amount:  o.Amount,
	}, nil
}

type targetsByTitleResponse struct {
	Orders []apiBookOrder `json:"Orders"`
}

// apiAggregatedTitle is one title's best-of-book aggregate from
// GET /price-aggregator/v1/aggregated-prices. Offers is the sell side,
// Orders the buy side. BestPrice is a cent string; empty means the side
// has no depth.
type apiAggregatedTitle struct {
	MarketHashName string `json:"MarketHashName"`
	Offers         struct {
		BestPrice string `json:"BestPrice"`
		Count     int    `json:"Count"`
	} `json:"Offers"`
	Orders struct {
		BestPrice string `json:"BestPrice"`
		Count     int    `json:"Count"`
	} `json:"Orders"`
}

type aggregatedPricesResponse struct {
	AggregatedTitles []apiAggregatedTitle `json:"AggregatedTitles"`
}

func (t apiAggregatedTitle) toDomain(game domain.Game) (domain.AggregatedPrice, error) {
	agg := domain.AggregatedPrice{
		Game:      game,
		Title:     t.MarketHashName,
		UpdatedAt: time.Now().UTC(),
	}
	if t.Orders.BestPrice != "" {
		bid, err := parseCents(t.Orders.BestPrice)
		if err != nil {
			return domain.AggregatedPrice{}, fmt.Errorf("dmarket: aggregated bid for %q: %w", t.MarketHashName, err)
		}
		agg.BestBid = bid
	}
	if t.Offers.BestPrice != "" {
		ask, err := parseCents(t.Offers.BestPrice)
		if err != nil {
			return domain.AggregatedPrice{}, fmt.Errorf("dmarket: aggregated ask for %q: %w", t.MarketHashName, err)
		}
		agg.BestAsk = ask
	}
	return agg, nil
}
