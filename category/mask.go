package category

import (
	"math/bits"

	"github.com/samber/lo"

	"github.com/domino14/yatzy/dice"
)

// Mask has bit i set while category i has not been scored yet.
type Mask uint16

// FullMask is the availability mask at the start of a game.
const FullMask Mask = 1<<NumCategories - 1

func (m Mask) Has(c Category) bool {
	return m&(1<<c) != 0
}

// Clear returns m with c marked as scored.
func (m Mask) Clear(c Category) Mask {
	return m &^ (1 << c)
}

// Len is the number of open categories.
func (m Mask) Len() int {
	return bits.OnesCount16(uint16(m))
}

func (m Mask) Empty() bool {
	return m&FullMask == 0
}

// Categories lists the open categories in id order.
func (m Mask) Categories() []Category {
	return lo.Map(dice.MaskDecode(uint16(m&FullMask), false), func(b uint8, _ int) Category {
		return Category(b)
	})
}

// Display lists the open categories one-based, as shown to people.
func (m Mask) Display() []uint8 {
	return dice.MaskDecode(uint16(m&FullMask), true)
}
