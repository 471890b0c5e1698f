// Package category defines the fifteen scoring categories of the game and
// the availability mask that tracks which of them are still open.
package category

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is one of the fifteen fixed scoring rules. The zero value is Ones.
type Category uint8

const (
	Ones Category = iota
	Twos
	Threes
	Fours
	Fives
	Sixes
	OnePair
	TwoPairs
	ThreeOfAKind
	FourOfAKind
	SmallStraight
	LargeStraight
	FullHouse
	Chance
	Yatzy
)

const NumCategories = 15

const (
	// UpperBonus is added to the game total when the six face-count
	// categories sum to at least UpperBonusThreshold.
	UpperBonus          = 50
	UpperBonusThreshold = 63
)

type counts [7]uint8

type rule struct {
	name     string
	minHold  uint8
	maxScore int
	score    func(c *counts, dice []uint8) int
}

var rules = [NumCategories]rule{
	{"ones", 5, 5, faceScore(1)},
	{"twos", 5, 10, faceScore(2)},
	{"threes", 5, 15, faceScore(3)},
	{"fours", 5, 20, faceScore(4)},
	{"fives", 5, 25, faceScore(5)},
	{"sixes", 5, 30, faceScore(6)},
	{"one_pair", 2, 12, ofAKind(2)},
	{"two_pairs", 4, 22, twoPairs},
	{"three_of_a_kind", 3, 18, ofAKind(3)},
	{"four_of_a_kind", 4, 24, ofAKind(4)},
	{"small_straight", 5, 15, straight(1, 15)},
	{"large_straight", 5, 20, straight(2, 20)},
	{"full_house", 5, 28, fullHouse},
	{"chance", 5, 30, chance},
	{"yatzy", 5, 50, yatzy},
}

func faceScore(face uint8) func(*counts, []uint8) int {
	return func(c *counts, _ []uint8) int {
		return int(c[face]) * int(face)
	}
}

// ofAKind scores the highest face showing at least n times.
func ofAKind(n uint8) func(*counts, []uint8) int {
	return func(c *counts, _ []uint8) int {
		for face := 6; face >= 1; face-- {
			if c[face] >= n {
				return face * int(n)
			}
		}
		return 0
	}
}

func twoPairs(c *counts, _ []uint8) int {
	score, pairs := 0, 0
	for face := 6; face >= 1 && pairs < 2; face-- {
		if c[face] >= 2 {
			score += face * 2
			pairs++
		}
	}
	if pairs < 2 {
		return 0
	}
	return score
}

// straight scores only the exact run of five faces starting at low.
func straight(low uint8, value int) func(*counts, []uint8) int {
	return func(c *counts, _ []uint8) int {
		for face := low; face < low+5; face++ {
			if c[face] != 1 {
				return 0
			}
		}
		return value
	}
}

func fullHouse(c *counts, _ []uint8) int {
	var triple, pair int
	for face := 6; face >= 1; face-- {
		if c[face] >= 3 && triple == 0 {
			triple = face
		} else if c[face] >= 2 && pair == 0 {
			pair = face
		}
	}
	if triple == 0 || pair == 0 {
		return 0
	}
	return triple*3 + pair*2
}

func chance(_ *counts, dice []uint8) int {
	s := 0
	for _, d := range dice {
		s += int(d)
	}
	return s
}

func yatzy(c *counts, _ []uint8) int {
	for face := 1; face <= 6; face++ {
		if c[face] >= 5 {
			return 50
		}
	}
	return 0
}

// All returns the categories in id order.
func All() []Category {
	cs := make([]Category, NumCategories)
	for i := range cs {
		cs[i] = Category(i)
	}
	return cs
}

// FromID validates a zero-based category id.
func FromID(id int) (Category, error) {
	if id < 0 || id >= NumCategories {
		return 0, fmt.Errorf("category id %d out of range [0, %d)", id, NumCategories)
	}
	return Category(id), nil
}

// Parse accepts either a zero-based id or a category name.
func Parse(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if id, err := strconv.Atoi(s); err == nil {
		return FromID(id)
	}
	for i, r := range rules {
		if r.name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) valid() bool {
	return int(c) < NumCategories
}

func (c Category) String() string {
	if !c.valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return rules[c].name
}

// MinHold is the largest hold length the hold policy of this category may
// use.
func (c Category) MinHold() uint8 {
	return rules[c].minHold
}

// MaxScore is the highest score the category can award.
func (c Category) MaxScore() int {
	return rules[c].maxScore
}

// Upper reports whether c is one of the six face-count categories.
func (c Category) Upper() bool {
	return c <= Sixes
}

// Score computes the category score of five faces. It is a pure function
// of the face multiset.
func (c Category) Score(dice []uint8) int {
	var cnt counts
	for _, d := range dice {
		cnt[d]++
	}
	return rules[c].score(&cnt, dice)
}

// Bonus returns the bonus earned by an upper-section total.
func Bonus(upperTotal int) int {
	if upperTotal >= UpperBonusThreshold {
		return UpperBonus
	}
	return 0
}
