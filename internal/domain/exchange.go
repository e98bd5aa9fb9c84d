package domain

import "context"

// Exchange is the narrow capability set this core consumes from the
// marketplace order-placement/query collaborator. Every method is
// network-bound; implementations own authentication, transport retries and
// rate limiting. Controllers depend on nothing else, so a test double can
// stand in for the whole marketplace.
type Exchange interface {
	// CreateOrders places one request spanning several order specs and
	// reports the per-item outcome with assigned ids.
	CreateOrders(ctx context.Context, game Game, specs []OrderSpec) ([]OrderCreateResult, error)

	// CancelOrders cancels the given order ids.
	CancelOrders(ctx context.Context, orderIDs []string) error

	// ListOrdersByTitle returns all competing buy-orders on the public book
	// for one item title.
	ListOrdersByTitle(ctx context.Context, game Game, title string) ([]MarketOrder, error)

	// ListOwnOrders returns the caller's orders, optionally filtered by
	// title (empty title means all).
	ListOwnOrders(ctx context.Context, game Game, status OrderStatus, title string) ([]Order, error)

	// GetAggregatedPrice returns the best-bid/best-ask pair for a title.
	GetAggregatedPrice(ctx context.Context, game Game, title string) (AggregatedPrice, error)
}
