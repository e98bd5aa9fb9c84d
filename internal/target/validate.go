// Package target implements lifecycle management for standing buy-orders
// ("targets") on the marketplace: validation, duplicate detection, batched
// creation, and the controllers that keep live orders competitive within
// configured limits.
package target

import (
	"fmt"

	"github.com/targetlab/dmbot/internal/domain"
)

// Default validation limits. The marketplace rejects orders outside these
// bounds server-side; validating locally keeps the failure actionable.
const (
	DefaultMinPrice      = 0.01
	DefaultMaxPrice      = 100000.0
	DefaultMaxConditions = 10

	// PriceStep is the smallest price increment the marketplace accepts.
	PriceStep = 0.01
)

// Limits bundles the validation bounds applied by ValidateComplete.
type Limits struct {
	MinPrice      float64
	MaxPrice      float64
	MaxConditions int
}

// DefaultLimits returns the marketplace's standard validation bounds.
func DefaultLimits() Limits {
	return Limits{
		MinPrice:      DefaultMinPrice,
		MaxPrice:      DefaultMaxPrice,
		MaxConditions: DefaultMaxConditions,
	}
}

// ValidatePrice checks a proposed price against the allowed band.
func ValidatePrice(price, minPrice, maxPrice float64) domain.OperationResult {
	switch {
	case price <= 0:
		return domain.Fail(domain.CodePriceTooLow, "price must be positive").
			WithReason(fmt.Sprintf("got %.2f", price)).
			WithSuggestions(fmt.Sprintf("set a price of at least %.2f", minPrice))
	case price < minPrice:
		return domain.Fail(domain.CodePriceTooLow,
			fmt.Sprintf("price %.2f is below the minimum %.2f", price, minPrice)).
			WithSuggestions(fmt.Sprintf("raise the price to at least %.2f", minPrice))
	case price > maxPrice:
		return domain.Fail(domain.CodePriceTooHigh,
			fmt.Sprintf("price %.2f is above the maximum %.2f", price, maxPrice)).
			WithSuggestions(fmt.Sprintf("lower the price to at most %.2f", maxPrice))
	default:
		return domain.OK("price is valid")
	}
}

// ValidateAttributes checks that the attribute set is meaningful for the
// game. Wear (float) bounds, paint seed, phase and exterior lists belong to
// the CS:GO attribute domain and are rejected everywhere else.
func ValidateAttributes(game domain.Game, attrs *domain.TargetAttrs) domain.OperationResult {
	if attrs == nil {
		return domain.OK("no attributes to validate")
	}

	if game != domain.GameCSGO {
		if attrs.FloatPartFrom != nil || attrs.FloatPartTo != nil {
			return domain.Fail(domain.CodeInvalidAttributes,
				fmt.Sprintf("float range is not supported for %s", game)).
				WithSuggestions("remove the float range or target a csgo item")
		}
		if attrs.PaintSeed != nil {
			return domain.Fail(domain.CodeInvalidAttributes,
				fmt.Sprintf("paint seed is not supported for %s", game)).
				WithSuggestions("remove the paint seed or target a csgo item")
		}
		if attrs.Phase != "" {
			return domain.Fail(domain.CodeInvalidAttributes,
				fmt.Sprintf("phase is not supported for %s", game)).
				WithSuggestions("remove the phase or target a csgo item")
		}
		if len(attrs.Exteriors) > 0 {
			return domain.Fail(domain.CodeInvalidAttributes,
				fmt.Sprintf("exterior filters are not supported for %s", game)).
				WithSuggestions("remove the exterior list or target a csgo item")
		}
		return domain.OK("attributes are valid")
	}

	if from := attrs.FloatPartFrom; from != nil && (*from < 0 || *from > 1) {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("float lower bound %.4f is outside [0, 1]", *from)).
			WithSuggestions("use a float lower bound between 0 and 1")
	}
	if to := attrs.FloatPartTo; to != nil && (*to < 0 || *to > 1) {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("float upper bound %.4f is outside [0, 1]", *to)).
			WithSuggestions("use a float upper bound between 0 and 1")
	}
	if attrs.FloatPartFrom != nil && attrs.FloatPartTo != nil && *attrs.FloatPartFrom > *attrs.FloatPartTo {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("float range is inverted: %.4f > %.4f", *attrs.FloatPartFrom, *attrs.FloatPartTo)).
			WithSuggestions("swap the float bounds")
	}
	return domain.OK("attributes are valid")
}

// ValidateFilters checks filter/game compatibility: sticker filters exist
// only for CS:GO, rarity filters only for Dota 2.
func ValidateFilters(game domain.Game, sticker *domain.StickerFilter, rarity *domain.RarityFilter) domain.OperationResult {
	if sticker != nil && game != domain.GameCSGO {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("sticker filter is not supported for %s", game)).
			WithSuggestions("remove the sticker filter or target a csgo item")
	}
	if rarity != nil && game != domain.GameDota2 {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("rarity filter is not supported for %s", game)).
			WithSuggestions("remove the rarity filter or target a dota2 item")
	}
	return domain.OK("filters are valid")
}

// CountConditions returns the total condition budget a draft consumes: one
// per set scalar attribute, one per element of a list attribute, plus each
// filter's own contribution. The sum is additive and independent of the
// order attributes are declared in.
func CountConditions(d domain.TargetDraft) int {
	n := 0
	if a := d.Attrs; a != nil {
		if a.FloatPartFrom != nil {
			n++
		}
		if a.FloatPartTo != nil {
			n++
		}
		if a.PaintSeed != nil {
			n++
		}
		if a.Phase != "" {
			n++
		}
		n += len(a.Exteriors)
	}
	if d.Sticker != nil {
		n += d.Sticker.CountConditions()
	}
	if d.Rarity != nil {
		n += d.Rarity.CountConditions()
	}
	return n
}

// ValidateConditions checks the draft against the marketplace's per-order
// condition limit and, on failure, reports the count, the limit, and the
// excess together with reduction heuristics.
func ValidateConditions(d domain.TargetDraft, maxConditions int) domain.OperationResult {
	if maxConditions <= 0 {
		maxConditions = DefaultMaxConditions
	}
	count := CountConditions(d)
	if count <= maxConditions {
		return domain.OK("condition count is within the limit").
			WithMeta("condition_count", count)
	}

	res := domain.Fail(domain.CodeInvalidAttributes,
		fmt.Sprintf("too many conditions: %d/%d", count, maxConditions)).
		WithReason(fmt.Sprintf("the draft exceeds the marketplace limit by %d condition(s)", count-maxConditions)).
		WithMeta("condition_count", count).
		WithMeta("max_conditions", maxConditions)

	if d.Attrs != nil && len(d.Attrs.Exteriors) > 1 {
		res = res.WithSuggestions("reduce the exterior list")
	}
	if d.Sticker != nil && d.Sticker.CountConditions() > 1 {
		res = res.WithSuggestions("simplify the sticker filter")
	}
	if d.Rarity != nil && d.Rarity.CountConditions() > 1 {
		res = res.WithSuggestions("simplify the rarity filter")
	}
	if len(res.Suggestions) == 0 {
		res = res.WithSuggestions("drop optional attributes")
	}
	return res
}

// ValidateComplete runs all draft checks in a fixed order (title, amount,
// price, attributes, filters, condition count) and returns the first
// failure. On success the final condition count is carried in metadata.
func ValidateComplete(d domain.TargetDraft, limits Limits) domain.OperationResult {
	if limits.MinPrice == 0 {
		limits.MinPrice = DefaultMinPrice
	}
	if limits.MaxPrice == 0 {
		limits.MaxPrice = DefaultMaxPrice
	}
	if limits.MaxConditions == 0 {
		limits.MaxConditions = DefaultMaxConditions
	}

	if d.Title == "" {
		return domain.Fail(domain.CodeInvalidAttributes, "title must not be empty").
			WithSuggestions("set the item title")
	}
	if d.Amount <= 0 {
		return domain.Fail(domain.CodeInvalidAttributes,
			fmt.Sprintf("amount must be positive, got %d", d.Amount)).
			WithSuggestions("request at least one item")
	}
	if res := ValidatePrice(d.Price, limits.MinPrice, limits.MaxPrice); !res.Success {
		return res
	}
	if res := ValidateAttributes(d.Game, d.Attrs); !res.Success {
		return res
	}
	if res := ValidateFilters(d.Game, d.Sticker, d.Rarity); !res.Success {
		return res
	}
	if res := ValidateConditions(d, limits.MaxConditions); !res.Success {
		return res
	}

	return domain.OK("draft is valid").
		WithMeta("condition_count", CountConditions(d))
}
