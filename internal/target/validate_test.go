package target

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targetlab/dmbot/internal/domain"
)

func TestValidatePriceBounds(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		wantOK  bool
		wantErr domain.ErrorCode
	}{
		{"zero", 0, false, domain.CodePriceTooLow},
		{"negative", -5, false, domain.CodePriceTooLow},
		{"below minimum", 0.005, false, domain.CodePriceTooLow},
		{"at minimum", 0.01, true, ""},
		{"normal", 12.50, true, ""},
		{"at maximum", 100000, true, ""},
		{"above maximum", 100000.01, false, domain.CodePriceTooHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidatePrice(tt.price, DefaultMinPrice, DefaultMaxPrice)
			assert.Equal(t, tt.wantOK, res.Success)
			if !tt.wantOK {
				assert.Equal(t, tt.wantErr, res.ErrorCode)
				assert.NotEmpty(t, res.Suggestions)
			}
		})
	}
}

func TestValidateAttributesGameGating(t *testing.T) {
	attrs := &domain.TargetAttrs{FloatPartFrom: floatPtr(0.1), FloatPartTo: floatPtr(0.3)}

	res := ValidateAttributes(domain.GameCSGO, attrs)
	assert.True(t, res.Success)

	for _, game := range []domain.Game{domain.GameDota2, domain.GameRust, domain.GameTF2} {
		res := ValidateAttributes(game, attrs)
		assert.False(t, res.Success, "float attrs must be rejected for %s", game)
		assert.Equal(t, domain.CodeInvalidAttributes, res.ErrorCode)
	}
}

func TestValidateAttributesFloatRange(t *testing.T) {
	tests := []struct {
		name   string
		attrs  *domain.TargetAttrs
		wantOK bool
	}{
		{"nil attrs", nil, true},
		{"valid range", &domain.TargetAttrs{FloatPartFrom: floatPtr(0), FloatPartTo: floatPtr(1)}, true},
		{"lower bound above one", &domain.TargetAttrs{FloatPartFrom: floatPtr(1.2)}, false},
		{"negative lower bound", &domain.TargetAttrs{FloatPartFrom: floatPtr(-0.1)}, false},
		{"upper bound above one", &domain.TargetAttrs{FloatPartTo: floatPtr(1.5)}, false},
		{"inverted range", &domain.TargetAttrs{FloatPartFrom: floatPtr(0.6), FloatPartTo: floatPtr(0.2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateAttributes(domain.GameCSGO, tt.attrs)
			assert.Equal(t, tt.wantOK, res.Success)
		})
	}
}

func TestValidateFiltersGameGating(t *testing.T) {
	sticker := &domain.StickerFilter{Names: []string{"Titan (Holo)"}}
	rarity := &domain.RarityFilter{Rarities: []string{"immortal"}}

	assert.True(t, ValidateFilters(domain.GameCSGO, sticker, nil).Success)
	assert.False(t, ValidateFilters(domain.GameDota2, sticker, nil).Success)

	assert.True(t, ValidateFilters(domain.GameDota2, nil, rarity).Success)
	assert.False(t, ValidateFilters(domain.GameCSGO, nil, rarity).Success)
	assert.False(t, ValidateFilters(domain.GameRust, nil, rarity).Success)
}

func TestCountConditionsAdditive(t *testing.T) {
	attrs := &domain.TargetAttrs{
		FloatPartFrom: floatPtr(0.1),
		FloatPartTo:   floatPtr(0.2),
		PaintSeed:     intPtr(42),
		Phase:         "Phase 2",
		Exteriors:     []string{"Factory New", "Minimal Wear"},
	}
	sticker := &domain.StickerFilter{Names: []string{"a", "b"}, Tournament: "Katowice 2014"}
	rarity := &domain.RarityFilter{Rarities: []string{"immortal"}, Heroes: []string{"pudge"}}

	attrsOnly := CountConditions(domain.TargetDraft{Game: domain.GameCSGO, Attrs: attrs})
	assert.Equal(t, 6, attrsOnly) // 4 scalars + 2 exteriors

	stickerOnly := CountConditions(domain.TargetDraft{Game: domain.GameCSGO, Sticker: sticker})
	rarityOnly := CountConditions(domain.TargetDraft{Game: domain.GameDota2, Rarity: rarity})

	combined := CountConditions(domain.TargetDraft{
		Game:    domain.GameCSGO,
		Attrs:   attrs,
		Sticker: sticker,
		Rarity:  rarity,
	})
	assert.Equal(t, attrsOnly+stickerOnly+rarityOnly, combined,
		"condition count must be the sum of its parts")
}

func TestValidateConditionsOverLimit(t *testing.T) {
	draft := domain.TargetDraft{
		Game: domain.GameCSGO,
		Attrs: &domain.TargetAttrs{
			FloatPartFrom: floatPtr(0.1),
			FloatPartTo:   floatPtr(0.2),
			PaintSeed:     intPtr(7),
			Phase:         "Ruby",
			Exteriors:     []string{"FN", "MW", "FT", "WW", "BS"},
		},
		Sticker: &domain.StickerFilter{Names: []string{"x", "y", "z"}},
	}
	count := CountConditions(draft)
	require.Greater(t, count, DefaultMaxConditions)

	res := ValidateConditions(draft, DefaultMaxConditions)
	require.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidAttributes, res.ErrorCode)
	assert.Contains(t, res.Message, fmt.Sprintf("%d/%d", count, DefaultMaxConditions))
	assert.Equal(t, count, res.Metadata["condition_count"])
	assert.NotEmpty(t, res.Suggestions)
}

func TestValidateCompleteOrderOfChecks(t *testing.T) {
	limits := DefaultLimits()

	res := ValidateComplete(domain.TargetDraft{Game: domain.GameCSGO}, limits)
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "title")

	res = ValidateComplete(domain.TargetDraft{Game: domain.GameCSGO, Title: "AK-47 | Redline"}, limits)
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "amount")

	res = ValidateComplete(domain.TargetDraft{
		Game: domain.GameCSGO, Title: "AK-47 | Redline", Amount: 1,
	}, limits)
	require.False(t, res.Success)
	assert.Equal(t, domain.CodePriceTooLow, res.ErrorCode)

	res = ValidateComplete(domain.TargetDraft{
		Game: domain.GameCSGO, Title: "AK-47 | Redline", Amount: 2, Price: 14.20,
		Attrs: &domain.TargetAttrs{FloatPartFrom: floatPtr(0.1), FloatPartTo: floatPtr(0.25)},
	}, limits)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Metadata["condition_count"])
}

func TestValidateCompleteZeroLimitsFallBackToDefaults(t *testing.T) {
	res := ValidateComplete(domain.TargetDraft{
		Game: domain.GameRust, Title: "Metal Facemask", Amount: 1, Price: 5,
	}, Limits{})
	assert.True(t, res.Success)
}
