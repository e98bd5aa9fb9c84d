package target

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targetlab/dmbot/internal/domain"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeEventStore) Log(_ context.Context, _ string, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeEventStore) ListByOrder(context.Context, string, domain.ListOpts) ([]domain.TargetEvent, error) {
	return nil, nil
}

func (s *fakeEventStore) logged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func newManager(ex *fakeExchange) *TargetManager {
	return NewTargetManager(DefaultManagerConfig(), ex, testLogger())
}

func TestCreateTargetLegacyContract(t *testing.T) {
	ex := &fakeExchange{}
	tm := newManager(ex)
	ctx := context.Background()

	_, err := tm.CreateTarget(ctx, domain.GameCSGO, "", 10, 1, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyTitle)

	_, err = tm.CreateTarget(ctx, domain.GameCSGO, "AK-47 | Redline", 10, 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	results, err := tm.CreateTarget(ctx, domain.GameCSGO, "AK-47 | Redline", 10, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Created)
}

func TestCreateTargetEnhancedDuplicateWithinTolerance(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "own-1", Title: "AK-47 | Redline", Price: 9.50, Status: domain.OrderStatusActive},
		},
	}
	tm := newManager(ex)

	// 9.52 sits inside the default 0.05 tolerance of the existing 9.50 order.
	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:            domain.GameCSGO,
		Title:           "AK-47 | Redline",
		Price:           9.52,
		Amount:          1,
		CheckDuplicates: true,
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeDuplicateOrder, res.ErrorCode)
	assert.Equal(t, "own-1", res.OrderID)
	assert.InDelta(t, 9.50, res.Metadata["existing_price"].(float64), 1e-9)
	assert.InDelta(t, 0.05, res.Metadata["duplicate_tolerance"].(float64), 1e-9)
	assert.Empty(t, ex.placed, "nothing must be placed on a duplicate")
}

func TestCreateTargetEnhancedDuplicateOutsideTolerance(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "own-1", Title: "AK-47 | Redline", Price: 9.50, Status: domain.OrderStatusActive},
		},
	}
	tm := newManager(ex)

	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:            domain.GameCSGO,
		Title:           "AK-47 | Redline",
		Price:           11,
		Amount:          1,
		CheckDuplicates: true,
	})
	require.True(t, res.Success, "a distinct price for the same title is not a duplicate")
	assert.Len(t, ex.placed, 1)
}

func TestCreateTargetEnhancedDuplicateGateFromConfig(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "own-1", Title: "AK-47 | Redline", Price: 9.50, Status: domain.OrderStatusActive},
		},
	}
	cfg := DefaultManagerConfig()
	cfg.CheckDuplicates = true
	cfg.DuplicateTolerance = 0.25
	tm := NewTargetManager(cfg, ex, testLogger())

	// The request does not ask for the check; the configured gate and
	// tolerance apply anyway. 9.30 is outside the 0.05 default but inside
	// the configured 0.25.
	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:   domain.GameCSGO,
		Title:  "AK-47 | Redline",
		Price:  9.30,
		Amount: 1,
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeDuplicateOrder, res.ErrorCode)
	assert.Empty(t, ex.placed)
}

func TestCreateTargetEnhancedValidationFailureBlocksPlacement(t *testing.T) {
	ex := &fakeExchange{}
	tm := newManager(ex)

	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:   domain.GameDota2,
		Title:  "Dragonclaw Hook",
		Price:  100,
		Amount: 1,
		Attrs:  &domain.TargetAttrs{FloatPartFrom: floatPtr(0.1)},
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidAttributes, res.ErrorCode)
	assert.Empty(t, ex.placed)
}

func TestCreateTargetEnhancedSuccessRegistersMonitor(t *testing.T) {
	ex := &fakeExchange{}
	events := &fakeEventStore{}
	tm := newManager(ex).
		WithMonitor(newMonitor(ex, nil)).
		WithEventStore(events)

	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:   domain.GameCSGO,
		Title:  "AK-47 | Redline",
		Price:  10,
		Amount: 1,
	})
	require.True(t, res.Success)
	require.NotEmpty(t, res.OrderID)
	assert.True(t, tm.monitor.Tracked(res.OrderID))
	assert.Equal(t, 0, res.Metadata["condition_count"])
	assert.Equal(t, []string{"target_created"}, events.logged())
}

func TestCreateTargetEnhancedPlacementRejected(t *testing.T) {
	ex := &fakeExchange{rejectCreates: true}
	tm := newManager(ex)

	res := tm.CreateTargetEnhanced(context.Background(), EnhancedRequest{
		Game:   domain.GameCSGO,
		Title:  "AK-47 | Redline",
		Price:  10,
		Amount: 1,
	})
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeUnknownError, res.ErrorCode)
	assert.Equal(t, "rejected", res.DetailedReason)
}

func TestMonitorAndOverbidDisabledReturnsNil(t *testing.T) {
	tm := newManager(&fakeExchange{})
	assert.Nil(t, tm.MonitorAndOverbid(context.Background(), "ord-a", domain.GameCSGO, "AK-47 | Redline", 10))
	assert.Nil(t, tm.RecordRelist(context.Background(), "ord-a", 10, 10.5, "undercut"))
	assert.Nil(t, tm.CheckPriceRange(context.Background(), "ord-a", domain.GameCSGO, "AK-47 | Redline"))

	_, err := tm.GetRelistStatistics("ord-a")
	assert.ErrorIs(t, err, domain.ErrNotTracked)
	assert.Empty(t, tm.GetPriceHistory("ord-a", 24))
}

func TestMonitorAndOverbidMigratesSiblingControllers(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "ord-1", Title: "AK-47 | Redline", Price: 10, Amount: 1, Status: domain.OrderStatusActive},
		},
		market: []domain.MarketOrder{{OrderID: "m-1", Title: "AK-47 | Redline", Price: 10.50}},
	}
	ex.nextID = 1 // seeded order took ord-1

	tm := newManager(ex).
		WithOverbid(newOverbid(ex, nil)).
		WithRelist(newRelist(ex, nil, nil)).
		WithMonitor(newMonitor(ex, nil))
	ctx := context.Background()

	trackBand(t, tm.monitor, "ord-1", 8, 15, BreachActionNotify)
	tm.relist.RecordRelist(ctx, "ord-1", 9.5, 10, "undercut")

	res := tm.MonitorAndOverbid(ctx, "ord-1", domain.GameCSGO, "AK-47 | Redline", 10)
	require.NotNil(t, res)
	require.True(t, res.Success)
	newID := res.OrderID
	require.NotEqual(t, "ord-1", newID)

	assert.True(t, tm.monitor.Tracked(newID))
	assert.False(t, tm.monitor.Tracked("ord-1"))
	stats, err := tm.relist.Statistics(newID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestMonitorAndOverbidNotDue(t *testing.T) {
	ex := &fakeExchange{}
	tm := newManager(ex).WithOverbid(newOverbid(ex, nil))
	ctx := context.Background()

	first := tm.MonitorAndOverbid(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline", 10)
	require.NotNil(t, first)
	require.True(t, first.Success)

	second := tm.MonitorAndOverbid(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline", 10)
	require.NotNil(t, second)
	assert.Equal(t, string(CheckNotDue), second.Metadata["state"])
}

func TestCreateSmartTargets(t *testing.T) {
	ex := &fakeExchange{agg: domain.AggregatedPrice{BestBid: 19, BestAsk: 21}}
	tm := newManager(ex)

	results := tm.CreateSmartTargets(context.Background(), []SmartItem{
		{Game: domain.GameCSGO, Title: "AK-47 | Redline", Amount: 1},
		{Game: domain.GameCSGO, Title: "AWP | Asiimov", Amount: 1, HighCompetition: true},
	}, 10, 5, false)

	require.Len(t, results, 1, "high-competition items are skipped without a result")
	require.True(t, results[0].Success)

	// mid 20, sell fee 5%, margin 10%: 20 * 0.95 / 1.10
	want := 20 * 0.95 / 1.10
	assert.InDelta(t, want, results[0].Metadata["target_price"].(float64), 1e-9)
	require.Len(t, ex.placed, 1)
	assert.InDelta(t, want, ex.placed[0].Price, 1e-9)
}

func TestCreateSmartTargetsCapsPlacements(t *testing.T) {
	ex := &fakeExchange{agg: domain.AggregatedPrice{BestBid: 10}}
	tm := newManager(ex)

	results := tm.CreateSmartTargets(context.Background(), []SmartItem{
		{Game: domain.GameCSGO, Title: "a", Amount: 1},
		{Game: domain.GameCSGO, Title: "b", Amount: 1},
		{Game: domain.GameCSGO, Title: "c", Amount: 1},
	}, 10, 2, false)

	assert.Len(t, results, 2)
	assert.Len(t, ex.placed, 2)
}

func TestDeleteTargetUntracksEverywhere(t *testing.T) {
	ex := &fakeExchange{}
	events := &fakeEventStore{}
	tm := newManager(ex).WithMonitor(newMonitor(ex, nil)).WithEventStore(events)

	trackBand(t, tm.monitor, "ord-a", 8, 15, BreachActionNotify)

	res := tm.DeleteTarget(context.Background(), "ord-a")
	require.True(t, res.Success)
	assert.Equal(t, []string{"ord-a"}, ex.cancelled)
	assert.False(t, tm.monitor.Tracked("ord-a"))
	assert.Equal(t, []string{"target_deleted"}, events.logged())
}

func TestMigrateTrackingMovesAllControllers(t *testing.T) {
	ex := &fakeExchange{}
	tm := newManager(ex).
		WithOverbid(newOverbid(ex, nil)).
		WithRelist(newRelist(ex, nil, nil)).
		WithMonitor(newMonitor(ex, nil))
	ctx := context.Background()

	tm.overbid.CheckAndOverbid(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline", 10)
	tm.relist.RecordRelist(ctx, "ord-a", 10, 10.5, "undercut")
	trackBand(t, tm.monitor, "ord-a", 8, 15, BreachActionNotify)

	tm.MigrateTracking("ord-a", "ord-b")

	_, ok := tm.overbid.InitialPrice("ord-b")
	assert.True(t, ok)
	_, err := tm.relist.Statistics("ord-b")
	assert.NoError(t, err)
	assert.True(t, tm.monitor.Tracked("ord-b"))
}

func TestCleanupOldData(t *testing.T) {
	ex := &fakeExchange{agg: domain.AggregatedPrice{BestBid: 10}}
	tm := newManager(ex).
		WithOverbid(newOverbid(ex, nil)).
		WithRelist(newRelist(ex, nil, nil)).
		WithMonitor(newMonitor(ex, nil))
	ctx := context.Background()

	tm.overbid.CheckAndOverbid(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline", 10)
	tm.relist.RecordRelist(ctx, "ord-a", 10, 10.5, "undercut")
	trackBand(t, tm.monitor, "ord-a", 8, 15, BreachActionNotify)
	tm.monitor.CheckMarketPrice(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline")

	report := tm.CleanupOldData(ctx, 30)
	assert.Zero(t, report.OverbidRemoved)
	assert.Zero(t, report.RelistRemoved)
	assert.Zero(t, report.PricePointsRemoved)
}

// fakeArchiver captures history uploads and journal exports per order id.
type fakeArchiver struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	eventIDs []string
}

func (a *fakeArchiver) ArchiveHistory(_ context.Context, orderID string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploads == nil {
		a.uploads = make(map[string][]byte)
	}
	a.uploads[orderID] = payload
	return nil
}

func (a *fakeArchiver) ArchiveEvents(_ context.Context, orderID string, _ time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eventIDs = append(a.eventIDs, orderID)
	return 1, nil
}

var _ domain.Archiver = (*fakeArchiver)(nil)

func TestCleanupOldDataArchivesSweptHistory(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "ord-1", Title: "AK-47 | Redline", Price: 10, Amount: 1, Status: domain.OrderStatusActive},
		},
		market: []domain.MarketOrder{{OrderID: "m-1", Title: "AK-47 | Redline", Price: 10.50}},
	}
	ex.nextID = 1 // seeded order took ord-1
	ar := &fakeArchiver{}
	tm := newManager(ex).WithOverbid(newOverbid(ex, nil)).WithArchiver(ar)
	ctx := context.Background()

	res := tm.MonitorAndOverbid(ctx, "ord-1", domain.GameCSGO, "AK-47 | Redline", 10)
	require.NotNil(t, res)
	require.True(t, res.Success)
	newID := res.OrderID
	require.NotEqual(t, "ord-1", newID)

	// Age the record so the retention sweep drops it.
	tm.overbid.mu.Lock()
	tm.overbid.states[newID].lastCheck = time.Now().Add(-48 * time.Hour)
	tm.overbid.mu.Unlock()

	report := tm.CleanupOldData(ctx, 1)
	assert.Equal(t, 1, report.OverbidRemoved)

	payload, ok := ar.uploads[newID]
	require.True(t, ok, "the swept order's history must be uploaded under its own id")
	assert.Contains(t, string(payload), `"overbids"`)
	assert.Contains(t, string(payload), "10.51", "the executed raise must appear in the archive payload")
	assert.Equal(t, []string{newID}, ar.eventIDs, "the journal slice is exported alongside the history")
}

func TestCleanupOldDataSkipsEmptyHistories(t *testing.T) {
	ex := &fakeExchange{}
	ar := &fakeArchiver{}
	tm := newManager(ex).WithOverbid(newOverbid(ex, nil)).WithArchiver(ar)
	ctx := context.Background()

	// A tracked order with no raises has nothing worth archiving.
	tm.overbid.CheckAndOverbid(ctx, "ord-a", domain.GameCSGO, "AK-47 | Redline", 10)
	tm.overbid.mu.Lock()
	tm.overbid.states["ord-a"].lastCheck = time.Now().Add(-48 * time.Hour)
	tm.overbid.mu.Unlock()

	report := tm.CleanupOldData(ctx, 1)
	assert.Equal(t, 1, report.OverbidRemoved)
	assert.Empty(t, ar.uploads)
	assert.Empty(t, ar.eventIDs)
}

func TestGetTargets(t *testing.T) {
	ex := &fakeExchange{
		own: []domain.Order{
			{ID: "ord-1", Game: domain.GameCSGO, Title: "a", Status: domain.OrderStatusActive},
			{ID: "ord-2", Game: domain.GameCSGO, Title: "b", Status: domain.OrderStatusCancelled},
		},
	}
	tm := newManager(ex)

	orders, err := tm.GetTargets(context.Background(), domain.GameCSGO)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-1", orders[0].ID)
}
