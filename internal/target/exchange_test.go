package target

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/targetlab/dmbot/internal/domain"
)

// fakeExchange is an in-memory stand-in for the marketplace. Tests seed the
// book and own-order list and inspect what was placed or cancelled.
type fakeExchange struct {
	mu sync.Mutex

	own    []domain.Order
	market []domain.MarketOrder
	agg    domain.AggregatedPrice

	createErr error
	cancelErr error
	ownErr    error
	marketErr error
	aggErr    error

	// rejectCreates makes CreateOrders report every spec as not created.
	rejectCreates bool

	placed    []domain.OrderSpec
	cancelled []string
	nextID    int
}

func (f *fakeExchange) CreateOrders(_ context.Context, game domain.Game, specs []domain.OrderSpec) ([]domain.OrderCreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	results := make([]domain.OrderCreateResult, 0, len(specs))
	for _, s := range specs {
		f.placed = append(f.placed, s)
		if f.rejectCreates {
			results = append(results, domain.OrderCreateResult{Title: s.Title, Error: "rejected"})
			continue
		}
		f.nextID++
		id := fmt.Sprintf("ord-%d", f.nextID)
		f.own = append(f.own, domain.Order{
			ID:        id,
			Game:      game,
			Title:     s.Title,
			Price:     s.Price,
			Amount:    s.Amount,
			Status:    domain.OrderStatusActive,
			Attrs:     s.Attrs,
			CreatedAt: time.Now(),
		})
		results = append(results, domain.OrderCreateResult{Title: s.Title, OrderID: id, Created: true})
	}
	return results, nil
}

func (f *fakeExchange) CancelOrders(_ context.Context, orderIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderIDs...)
	for _, id := range orderIDs {
		for i := range f.own {
			if f.own[i].ID == id {
				f.own[i].Status = domain.OrderStatusCancelled
			}
		}
	}
	return nil
}

func (f *fakeExchange) ListOrdersByTitle(_ context.Context, _ domain.Game, title string) ([]domain.MarketOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	var out []domain.MarketOrder
	for _, m := range f.market {
		if strings.EqualFold(m.Title, title) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeExchange) ListOwnOrders(_ context.Context, _ domain.Game, status domain.OrderStatus, title string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownErr != nil {
		return nil, f.ownErr
	}
	var out []domain.Order
	for _, o := range f.own {
		if status != "" && o.Status != status {
			continue
		}
		if title != "" && !strings.EqualFold(o.Title, title) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) GetAggregatedPrice(_ context.Context, _ domain.Game, _ string) (domain.AggregatedPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aggErr != nil {
		return domain.AggregatedPrice{}, f.aggErr
	}
	return f.agg, nil
}

func (f *fakeExchange) placedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.placed))
	for i, s := range f.placed {
		out[i] = s.Title
	}
	return out
}

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
