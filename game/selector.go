package game

import (
	"math"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
)

// A Selector picks the open category a final throw is scored in.
type Selector interface {
	Select(final dice.Code, mask category.Mask) (category.Category, error)
}

// RandomSelector ignores the dice and picks any open category uniformly.
// It drives exploration while learning which category to pick.
type RandomSelector struct {
	rng dice.Source
}

func NewRandomSelector(rng dice.Source) *RandomSelector {
	return &RandomSelector{rng: rng}
}

func (r *RandomSelector) Select(_ dice.Code, mask category.Mask) (category.Category, error) {
	open := mask.Categories()
	if len(open) == 0 {
		return 0, ErrNoCategory
	}
	return open[r.rng.Intn(len(open))], nil
}

// Weights biases category choice: the weighted selector maximizes
// score × weight.
type Weights [category.NumCategories]float32

// WeightedSelector picks the open category with the highest weighted
// score. The lowest category id wins ties.
type WeightedSelector struct {
	Weights Weights
}

func (w WeightedSelector) Select(final dice.Code, mask category.Mask) (category.Category, error) {
	d := final.Dice()
	best, found := category.Category(0), false
	max := float32(-math.MaxFloat32)
	for _, c := range mask.Categories() {
		v := float32(c.Score(d)) * w.Weights[c]
		if v > max || !found {
			best, max, found = c, v, true
		}
	}
	if !found {
		return 0, ErrNoCategory
	}
	return best, nil
}
