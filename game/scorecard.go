// Package game plays complete fifteen-category games: learned hold tables
// pick the dice to keep, and a pluggable Selector picks the category each
// final throw is scored in.
package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
)

var (
	// ErrNoCategory means no open category could be chosen.
	ErrNoCategory = errors.New("no category available")
	ErrFilled     = errors.New("category already scored")
)

// Scorecard tracks one game. A category's score, final dice and the
// availability mask it was chosen under are set exactly once.
type Scorecard struct {
	Mask   category.Mask
	Scores [category.NumCategories]int
	Final  [category.NumCategories]dice.Code
	// MaskAt is the availability mask at the moment each category was scored.
	MaskAt [category.NumCategories]category.Mask
	Order  []category.Category
}

func NewScorecard() *Scorecard {
	return &Scorecard{
		Mask:  category.FullMask,
		Order: make([]category.Category, 0, category.NumCategories),
	}
}

// Fill scores the final dice in c and closes c.
func (s *Scorecard) Fill(c category.Category, final dice.Code) (int, error) {
	if !s.Mask.Has(c) {
		return 0, fmt.Errorf("%w: %v", ErrFilled, c)
	}
	score := c.Score(final.Dice())
	s.Scores[c] = score
	s.Final[c] = final
	s.MaskAt[c] = s.Mask
	s.Mask = s.Mask.Clear(c)
	s.Order = append(s.Order, c)
	return score, nil
}

func (s *Scorecard) Done() bool {
	return s.Mask.Empty()
}

func (s *Scorecard) UpperTotal() int {
	return lo.Sum(s.Scores[:category.Sixes+1])
}

func (s *Scorecard) Bonus() int {
	return category.Bonus(s.UpperTotal())
}

// Subtotal is the sum of category scores without the bonus.
func (s *Scorecard) Subtotal() int {
	return lo.Sum(s.Scores[:])
}

func (s *Scorecard) Total() int {
	return s.Subtotal() + s.Bonus()
}

func (s *Scorecard) String() string {
	var sb strings.Builder
	for _, c := range category.All() {
		mark := " "
		if !s.Mask.Has(c) {
			mark = "*"
		}
		fmt.Fprintf(&sb, "%2d %-16s %s %3d\n", int(c)+1, c, mark, s.Scores[c])
	}
	fmt.Fprintf(&sb, "   %-16s   %3d\n", "bonus", s.Bonus())
	fmt.Fprintf(&sb, "   %-16s   %3d\n", "total", s.Total())
	return sb.String()
}
