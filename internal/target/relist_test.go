package target

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targetlab/dmbot/internal/domain"
)

func newRelist(ex *fakeExchange, n Notifier, mutate func(*RelistConfig)) *RelistManager {
	cfg := DefaultRelistConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRelistManager(cfg, ex, n, testLogger())
}

func TestRecordRelistCountsUpToLimit(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := m.RecordRelist(ctx, "ord-a", 10, 10+float64(i)*0.5, "undercut")
		require.True(t, res.Success, "relist %d must be recorded", i)
		assert.Equal(t, i, res.Metadata["relist_count"])
		assert.Equal(t, 3-i, res.Metadata["remaining_relists"])
	}

	// The budget is spent; the next attempt is rejected.
	res := m.RecordRelist(ctx, "ord-a", 11.5, 12, "undercut")
	require.False(t, res.Success)
	assert.Equal(t, "ORDER_LIMIT_REACHED", string(res.ErrorCode))
	assert.NotEmpty(t, res.Suggestions)

	assert.Len(t, m.History("ord-a"), 3, "the rejected attempt leaves no history entry")
}

func TestRecordRelistLimitActionRunsOnTheLimitingCall(t *testing.T) {
	n := &fakeNotifier{}
	m := newRelist(&fakeExchange{}, n, func(cfg *RelistConfig) { cfg.MaxRelists = 1 })

	res := m.RecordRelist(context.Background(), "ord-a", 10, 10.5, "undercut")
	require.True(t, res.Success, "the call that reaches the limit still succeeds")
	assert.Equal(t, string(LimitActionNotify), res.Metadata["limit_action"])
	assert.Equal(t, []string{"relist_limit"}, n.delivered())
}

func TestRelistPauseActionIsSticky(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, func(cfg *RelistConfig) {
		cfg.MaxRelists = 1
		cfg.Action = LimitActionPause
	})
	ctx := context.Background()

	res := m.RecordRelist(ctx, "ord-a", 10, 10.5, "undercut")
	require.True(t, res.Success)
	assert.Equal(t, true, res.Metadata["paused"])

	res = m.RecordRelist(ctx, "ord-a", 10.5, 11, "undercut")
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "paused")

	require.True(t, m.Unpause("ord-a"))
	assert.False(t, m.Unpause("ord-a"), "already unpaused")
	// Unpausing lifts the block but not the spent budget.
	res = m.RecordRelist(ctx, "ord-a", 10.5, 11, "undercut")
	assert.False(t, res.Success)

	m.Reset("ord-a")
	res = m.RecordRelist(ctx, "ord-a", 10.5, 11, "undercut")
	assert.True(t, res.Success)
}

func TestRelistWindowAutoResets(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, func(cfg *RelistConfig) {
		cfg.MaxRelists = 1
		cfg.ResetPeriod = 10 * time.Millisecond
	})
	ctx := context.Background()

	require.True(t, m.RecordRelist(ctx, "ord-a", 10, 10.5, "undercut").Success)
	require.False(t, m.CanRelist("ord-a"))

	time.Sleep(20 * time.Millisecond)

	assert.True(t, m.CanRelist("ord-a"), "an elapsed window restores the budget")
	res := m.RecordRelist(ctx, "ord-a", 10.5, 11, "undercut")
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Metadata["relist_count"], "the counter restarted with the window")
}

func TestRelistCancelAction(t *testing.T) {
	ex := &fakeExchange{}
	m := newRelist(ex, nil, func(cfg *RelistConfig) {
		cfg.MaxRelists = 1
		cfg.Action = LimitActionCancel
	})

	res := m.RecordRelist(context.Background(), "ord-a", 10, 10.5, "undercut")
	require.True(t, res.Success)
	assert.Equal(t, true, res.Metadata["cancelled"])
	assert.Equal(t, []string{"ord-a"}, ex.cancelled)
}

func TestRelistCancelActionFailureReported(t *testing.T) {
	ex := &fakeExchange{cancelErr: errors.New("cancel endpoint down")}
	m := newRelist(ex, nil, func(cfg *RelistConfig) {
		cfg.MaxRelists = 1
		cfg.Action = LimitActionCancel
	})

	res := m.RecordRelist(context.Background(), "ord-a", 10, 10.5, "undercut")
	require.True(t, res.Success, "the relist itself was recorded")
	assert.Equal(t, false, res.Metadata["cancelled"])
	assert.NotEmpty(t, res.Suggestions)
}

func TestRelistLowerPriceAction(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, func(cfg *RelistConfig) {
		cfg.MaxRelists = 1
		cfg.Action = LimitActionLowerPrice
		cfg.LowerPricePercent = 10
	})

	res := m.RecordRelist(context.Background(), "ord-a", 10, 20, "undercut")
	require.True(t, res.Success)
	assert.InDelta(t, 18, res.Metadata["suggested_price"].(float64), 1e-9)
}

func TestRelistStatistics(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, nil)
	ctx := context.Background()

	_, err := m.Statistics("ord-a")
	assert.ErrorIs(t, err, domain.ErrNotTracked)

	m.RecordRelist(ctx, "ord-a", 10, 10.5, "undercut")
	m.RecordRelist(ctx, "ord-a", 10.5, 11, "undercut")

	stats, err := m.Statistics("ord-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 3, stats.MaxRelists)
	assert.Equal(t, 1, stats.Remaining)
	assert.False(t, stats.Paused)
	assert.NotEmpty(t, stats.TimeToReset)
	require.True(t, stats.HasForecast)
	assert.InDelta(t, 11+PriceStep, stats.NextPrice, 1e-9)
}

func TestRelistMigrateAndCleanup(t *testing.T) {
	m := newRelist(&fakeExchange{}, nil, nil)
	m.RecordRelist(context.Background(), "ord-a", 10, 10.5, "undercut")

	require.True(t, m.Migrate("ord-a", "ord-b"))
	stats, err := m.Statistics("ord-b")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	assert.Empty(t, m.Cleanup(time.Hour))

	dropped := m.Cleanup(0)
	require.Len(t, dropped, 1)
	require.Len(t, dropped["ord-b"], 1, "the dropped price changes come back for archiving")
	assert.InDelta(t, 10.5, dropped["ord-b"][0].NewPrice, 1e-9)
	_, err = m.Statistics("ord-b")
	assert.Error(t, err)
}
