package dmarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targetlab/dmbot/internal/domain"
)

func TestMoneyFromPriceIsCentExact(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{10.50, "1050"},
		{0.01, "1"},
		{29.99, "2999"},
		{100000, "10000000"},
	}
	for _, tt := range tests {
		m := moneyFromPrice(tt.price)
		assert.Equal(t, tt.want, m.Amount, "price %v", tt.price)
		assert.Equal(t, "USD", m.Currency)
	}
}

func TestMoneyRoundTrip(t *testing.T) {
	for _, price := range []float64{0.01, 0.07, 10.50, 29.99, 1234.56} {
		back, err := moneyFromPrice(price).Price()
		require.NoError(t, err)
		assert.InDelta(t, price, back, 1e-9)
	}
}

func TestMoneyPriceRejectsGarbage(t *testing.T) {
	_, err := apiMoney{Amount: "not-a-number"}.Price()
	assert.Error(t, err)
}

func TestGameIDMapping(t *testing.T) {
	id, err := GameID(domain.GameCSGO)
	require.NoError(t, err)
	assert.Equal(t, "a8db", id)

	_, err = GameID(domain.Game("starfield"))
	assert.Error(t, err)

	// Every id maps back to the game it came from.
	for game, id := range gameIDs {
		assert.Equal(t, game, gamesByID[id])
	}
}

func TestUserTargetToDomain(t *testing.T) {
	seed := 555
	wire := apiUserTarget{
		TargetID:  "tgt-1",
		GameID:    "a8db",
		Title:     "AK-47 | Redline (Field-Tested)",
		Amount:    2,
		Price:     apiMoney{Currency: "USD", Amount: "1275"},
		Status:    wireStatusActive,
		Attrs:     &apiTargetAttrs{PaintSeed: &seed, Phase: "phase-2"},
		CreatedAt: 1700000000,
	}

	order, err := wire.toDomain()
	require.NoError(t, err)
	assert.Equal(t, "tgt-1", order.ID)
	assert.Equal(t, domain.GameCSGO, order.Game)
	assert.Equal(t, 12.75, order.Price)
	assert.Equal(t, domain.OrderStatusActive, order.Status)
	require.NotNil(t, order.Attrs)
	assert.Equal(t, 555, *order.Attrs.PaintSeed)
	assert.Equal(t, "phase-2", order.Attrs.Phase)
	assert.Equal(t, int64(1700000000), order.CreatedAt.Unix())
}

func TestUserTargetUnknownStatusMapsToInactive(t *testing.T) {
	wire := apiUserTarget{
		TargetID: "tgt-2",
		GameID:   "9a92",
		Price:    apiMoney{Currency: "USD", Amount: "100"},
		Status:   "TargetStatusSomethingNew",
	}
	order, err := wire.toDomain()
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInactive, order.Status)
}

func TestCreateResultErrorFallsBackToCode(t *testing.T) {
	r := apiCreateResult{
		CreateTarget: apiTargetSpec{Title: "item"},
		Successful:   false,
		Error:        &apiError{Code: "TargetPriceTooLow"},
	}
	out := r.toDomain()
	assert.False(t, out.Created)
	assert.Equal(t, "TargetPriceTooLow", out.Error)
}

func TestAggregatedTitleEmptySides(t *testing.T) {
	var wire apiAggregatedTitle
	wire.MarketHashName = "item"
	wire.Orders.BestPrice = "900"

	agg, err := wire.toDomain(domain.GameRust)
	require.NoError(t, err)
	assert.Equal(t, 9.0, agg.BestBid)
	assert.Zero(t, agg.BestAsk)
	assert.Equal(t, domain.GameRust, agg.Game)
}

func TestAttrsWireRoundTrip(t *testing.T) {
	from, to := 0.0, 0.07
	attrs := &domain.TargetAttrs{
		FloatPartFrom: &from,
		FloatPartTo:   &to,
		Exteriors:     []string{"Factory New"},
	}
	assert.Equal(t, attrs, attrsToWire(attrs).toDomain())
	assert.Nil(t, attrsToWire(nil))
	assert.Nil(t, (*apiTargetAttrs)(nil).toDomain())
}
