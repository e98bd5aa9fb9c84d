package target

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targetlab/dmbot/internal/domain"
)

func newBatchOps(ex *fakeExchange) *BatchOperations {
	return NewBatchOperations(ex, DefaultLimits(), testLogger())
}

func TestCreateBatchTargetWeightSplit(t *testing.T) {
	ex := &fakeExchange{}
	ops := newBatchOps(ex)

	res := ops.CreateBatchTarget(context.Background(), BatchRequest{
		Game: domain.GameCSGO,
		Items: []BatchItem{
			{Title: "AK-47 | Slate", Weight: 1},
			{Title: "AK-47 | Redline", Weight: 2},
			{Title: "AK-47 | Asiimov", Weight: 3},
		},
		TotalPrice:  60,
		TotalAmount: 6,
	})
	require.True(t, res.Success)
	require.Len(t, ex.placed, 3)

	assert.InDelta(t, 10, ex.placed[0].Price, 1e-9)
	assert.InDelta(t, 20, ex.placed[1].Price, 1e-9)
	assert.InDelta(t, 30, ex.placed[2].Price, 1e-9)
	assert.Equal(t, 1, ex.placed[0].Amount)
	assert.Equal(t, 2, ex.placed[1].Amount)
	assert.Equal(t, 3, ex.placed[2].Amount)
}

func TestCreateBatchTargetMinimumAmountPerItem(t *testing.T) {
	ex := &fakeExchange{}
	ops := newBatchOps(ex)

	// Two items, total amount 1: rounding would starve one item, the floor
	// of 1 per item kicks in.
	res := ops.CreateBatchTarget(context.Background(), BatchRequest{
		Game: domain.GameRust,
		Items: []BatchItem{
			{Title: "Metal Facemask", Weight: 1},
			{Title: "Garage Door", Weight: 1},
		},
		TotalPrice:  10,
		TotalAmount: 1,
	})
	require.True(t, res.Success)
	require.Len(t, ex.placed, 2)
	assert.GreaterOrEqual(t, ex.placed[0].Amount, 1)
	assert.GreaterOrEqual(t, ex.placed[1].Amount, 1)
}

func TestCreateBatchTargetEmpty(t *testing.T) {
	ops := newBatchOps(&fakeExchange{})
	res := ops.CreateBatchTarget(context.Background(), BatchRequest{Game: domain.GameCSGO})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidAttributes, res.ErrorCode)
}

func TestCreateBatchTargetTooManyItems(t *testing.T) {
	items := make([]BatchItem, MaxBatchItems+1)
	for i := range items {
		items[i] = BatchItem{Title: fmt.Sprintf("item-%d", i), Weight: 1}
	}
	ops := newBatchOps(&fakeExchange{})
	res := ops.CreateBatchTarget(context.Background(), BatchRequest{
		Game: domain.GameCSGO, Items: items, TotalPrice: 1000, TotalAmount: 101,
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeOrderLimitReached, res.ErrorCode)
}

func TestCreateBatchTargetInvalidItemExcluded(t *testing.T) {
	ex := &fakeExchange{}
	ops := newBatchOps(ex)

	res := ops.CreateBatchTarget(context.Background(), BatchRequest{
		Game: domain.GameCSGO,
		Items: []BatchItem{
			{Title: "AK-47 | Redline", Weight: 1},
			{Title: "", Weight: 1}, // fails validation, must not be placed
		},
		TotalPrice:  20,
		TotalAmount: 2,
	})
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, []string{"AK-47 | Redline"}, ex.placedTitles())

	outcomes, ok := res.Metadata["items"].([]BatchItemOutcome)
	require.True(t, ok)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Created)
	assert.False(t, outcomes[1].Created)
	assert.NotEmpty(t, outcomes[1].Error)
}

func TestCreateBatchTargetTransportError(t *testing.T) {
	ex := &fakeExchange{createErr: errors.New("dial tcp: connection refused")}
	ops := newBatchOps(ex)

	res := ops.CreateBatchTarget(context.Background(), BatchRequest{
		Game:        domain.GameCSGO,
		Items:       []BatchItem{{Title: "AK-47 | Redline", Weight: 1}},
		TotalPrice:  10,
		TotalAmount: 1,
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeUnknownError, res.ErrorCode)
	assert.Contains(t, res.DetailedReason, "connection refused")
}

func TestDetectExistingOrders(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "own-1", Title: "AK-47 | Redline", Price: 9.50, Status: domain.OrderStatusActive},
		},
		market: []domain.MarketOrder{
			{OrderID: "m-1", Title: "AK-47 | Redline", Price: 10.00},
			{OrderID: "m-2", Title: "AK-47 | Redline", Price: 12.00},
		},
	}
	ops := newBatchOps(ex)

	info := ops.DetectExistingOrders(context.Background(), domain.GameCSGO, "AK-47 | Redline")
	assert.False(t, info.CanCreate)
	assert.Equal(t, "own-1", info.ExistingOrderID)
	assert.InDelta(t, 9.50, info.ExistingPrice, 1e-9)
	assert.Equal(t, 2, info.Competitors)
	assert.InDelta(t, 12.00, info.BestPrice, 1e-9)
	assert.InDelta(t, 11.00, info.AveragePrice, 1e-9)
	assert.InDelta(t, 12.00+PriceStep, info.RecommendedPrice, 1e-9)
}

func TestDetectExistingOrdersDegradesOnLookupFailure(t *testing.T) {
	ex := &fakeExchange{
		ownErr: errors.New("own lookup down"),
		market: []domain.MarketOrder{{OrderID: "m-1", Title: "AK-47 | Redline", Price: 8.00}},
	}
	ops := newBatchOps(ex)

	info := ops.DetectExistingOrders(context.Background(), domain.GameCSGO, "AK-47 | Redline")
	assert.True(t, info.CanCreate, "own-order failure must not block creation")
	assert.Equal(t, 1, info.Competitors)
}

func TestCheckDuplicateOrderTolerance(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "own-1", Title: "AWP | Asiimov", Price: 10.00, Status: domain.OrderStatusActive},
		},
	}
	ops := newBatchOps(ex)
	ctx := context.Background()

	dup := ops.CheckDuplicateOrder(ctx, domain.GameCSGO, "AWP | Asiimov", 10.04, 0.05)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, "own-1", dup.MatchedOrderID)

	dup = ops.CheckDuplicateOrder(ctx, domain.GameCSGO, "AWP | Asiimov", 10.04, 0.02)
	assert.False(t, dup.IsDuplicate)
}

func TestMergeAttrsItemOverridesShared(t *testing.T) {
	shared := &domain.TargetAttrs{FloatPartFrom: floatPtr(0.0), FloatPartTo: floatPtr(0.5), Phase: "Phase 1"}
	item := &domain.TargetAttrs{FloatPartTo: floatPtr(0.2)}

	merged := mergeAttrs(shared, item)
	require.NotNil(t, merged)
	assert.Equal(t, 0.0, *merged.FloatPartFrom)
	assert.Equal(t, 0.2, *merged.FloatPartTo)
	assert.Equal(t, "Phase 1", merged.Phase)

	assert.Nil(t, mergeAttrs(nil, nil))
	assert.Equal(t, 0.5, *shared.FloatPartTo, "inputs must not be mutated")
}
