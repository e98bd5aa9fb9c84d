package domain

import "time"

// Game identifies a marketplace game family.
type Game string

const (
	GameCSGO  Game = "csgo"
	GameDota2 Game = "dota2"
	GameRust  Game = "rust"
	GameTF2   Game = "tf2"
)

// OrderStatus tracks a standing buy-order's lifecycle on the marketplace.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusInactive  OrderStatus = "inactive"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// TargetAttrs carries the optional item attributes a buy-order can filter on.
// Float bounds apply to the CS:GO wear range and are only valid there.
type TargetAttrs struct {
	FloatPartFrom *float64
	FloatPartTo   *float64
	PaintSeed     *int
	Phase         string
	Exteriors     []string
}

// TargetDraft is a proposed buy-order before validation and placement.
type TargetDraft struct {
	Game    Game
	Title   string
	Price   float64
	Amount  int
	Attrs   *TargetAttrs
	Sticker *StickerFilter
	Rarity  *RarityFilter
}

// Order is the marketplace's view of one of the caller's standing buy-orders.
// The order book owns it; this process only tracks derived state by its ID.
type Order struct {
	ID        string
	Game      Game
	Title     string
	Price     float64
	Amount    int
	Status    OrderStatus
	Attrs     *TargetAttrs
	CreatedAt time.Time
}

// OrderSpec is a single order in a placement request.
type OrderSpec struct {
	Title  string
	Price  float64
	Amount int
	Attrs  *TargetAttrs
}

// OrderCreateResult reports the per-item outcome of a placement request.
type OrderCreateResult struct {
	Title   string
	OrderID string
	Created bool
	Error   string
}
