package domain

// ConditionCounter is implemented by filter values that contribute to a
// target's condition budget. The marketplace enforces a fixed per-order
// limit on total filter complexity; each named value, list element, or
// scalar predicate counts as one condition.
type ConditionCounter interface {
	CountConditions() int
}

// StickerFilter restricts a buy-order to items carrying particular stickers.
// Valid for CS:GO targets only. The zero value matches nothing and counts
// zero conditions. Treat values as immutable once constructed.
type StickerFilter struct {
	Names      []string
	Tournament string
	Team       string
	MinCount   int
}

// CountConditions returns this filter's contribution to the condition
// budget: one per sticker name plus one per scalar predicate set.
func (f StickerFilter) CountConditions() int {
	n := len(f.Names)
	if f.Tournament != "" {
		n++
	}
	if f.Team != "" {
		n++
	}
	if f.MinCount > 0 {
		n++
	}
	return n
}

// RarityFilter restricts a buy-order by item rarity and hero. Valid for
// Dota 2 targets only. Treat values as immutable once constructed.
type RarityFilter struct {
	Rarities []string
	Heroes   []string
	Quality  string
}

// CountConditions returns one per rarity, one per hero, plus one when a
// quality predicate is set.
func (f RarityFilter) CountConditions() int {
	n := len(f.Rarities) + len(f.Heroes)
	if f.Quality != "" {
		n++
	}
	return n
}

var (
	_ ConditionCounter = StickerFilter{}
	_ ConditionCounter = RarityFilter{}
)
