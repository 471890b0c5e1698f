package montecarlo

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/distribution"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/tablefile"
)

const SelectionFile = "game.bin"

// SelectionTable holds the average final game total observed after scoring
// a given score in a given category under a given mask. Choosing the open
// category with the highest entry is the learned category-selection policy.
type SelectionTable struct {
	avg map[ScoreKey]float64
}

func NewSelectionTable() *SelectionTable {
	return &SelectionTable{avg: make(map[ScoreKey]float64)}
}

// Derive builds the selection table from accumulated tallies.
func (a *GameAccumulator) Derive() *SelectionTable {
	t := NewSelectionTable()
	for k, tl := range a.tallies {
		if tl.Hits > 0 {
			t.avg[k] = tl.Average()
		}
	}
	return t
}

func (t *SelectionTable) Len() int {
	return len(t.avg)
}

func (t *SelectionTable) Lookup(k ScoreKey) (float64, bool) {
	v, ok := t.avg[k]
	return v, ok
}

// Best returns the open category whose resulting state has the highest
// average total. found is false when no open category has an entry.
func (t *SelectionTable) Best(final dice.Code, mask category.Mask) (c category.Category, avg float64, found bool) {
	d := final.Dice()
	avg = math.Inf(-1)
	for _, oc := range mask.Categories() {
		v, ok := t.avg[ScoreKey{Score: uint8(oc.Score(d)), Category: oc, Mask: mask}]
		if ok && v > avg {
			c, avg, found = oc, v, true
		}
	}
	return c, avg, found
}

type avgRecord struct {
	ScoreKey
	avg float64
}

// [score u8][category u8][mask u16][avg f64]
var avgLayout = tablefile.Layout[avgRecord]{
	Size: 12,
	Put: func(b []byte, r avgRecord) {
		b[0] = r.Score
		b[1] = uint8(r.Category)
		binary.LittleEndian.PutUint16(b[2:4], uint16(r.Mask))
		binary.LittleEndian.PutUint64(b[4:12], math.Float64bits(r.avg))
	},
	Get: func(b []byte) avgRecord {
		return avgRecord{
			ScoreKey: ScoreKey{
				Score:    b[0],
				Category: category.Category(b[1]),
				Mask:     category.Mask(binary.LittleEndian.Uint16(b[2:4])),
			},
			avg: math.Float64frombits(binary.LittleEndian.Uint64(b[4:12])),
		}
	},
}

func (t *SelectionTable) records() iter.Seq[avgRecord] {
	return func(yield func(avgRecord) bool) {
		keys := lo.Keys(t.avg)
		slices.SortFunc(keys, ScoreKey.compare)
		for _, k := range keys {
			if !yield(avgRecord{k, t.avg[k]}) {
				return
			}
		}
	}
}

func (t *SelectionTable) Save(dir string) error {
	return tablefile.Save(filepath.Join(dir, SelectionFile), nil, len(t.avg), t.records(), avgLayout)
}

func LoadSelectionTable(dir string) (t *SelectionTable, found bool, err error) {
	t = NewSelectionTable()
	_, found, err = tablefile.Load(filepath.Join(dir, SelectionFile), 0, avgLayout, func(r avgRecord) {
		t.avg[r.ScoreKey] = r.avg
	})
	if err != nil {
		return nil, found, err
	}
	return t, found, nil
}

// TableSelector scores final dice in the category the selection table
// favors. When the table has never seen any open choice, it falls back to
// the learned score distributions if it has them, and fails otherwise.
type TableSelector struct {
	Table    *SelectionTable
	Fallback []*distribution.Histogram
}

func (s TableSelector) Select(final dice.Code, mask category.Mask) (category.Category, error) {
	if c, _, ok := s.Table.Best(final, mask); ok {
		return c, nil
	}
	if s.Fallback != nil {
		if c, ok := DistributionChoice(s.Fallback, final, mask); ok {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: no selection entry for %v with open %v", game.ErrNoCategory, final.Dice(), mask.Display())
}

// DistributionChoice picks the open category whose score for the final dice
// beats that category's mean learned score by the widest margin.
// Categories without a distribution are skipped.
func DistributionChoice(dists []*distribution.Histogram, final dice.Code, mask category.Mask) (category.Category, bool) {
	d := final.Dice()
	best, found := category.Category(0), false
	gain := math.Inf(-1)
	for _, c := range mask.Categories() {
		h := dists[c]
		if h == nil || h.Total() == 0 {
			continue
		}
		g := float64(c.Score(d)) - h.Mean(0)
		if g > gain {
			best, gain, found = c, g, true
		}
	}
	return best, found
}

// Projection estimates the final total of a game in progress by drawing a
// score from the distribution of every open category.
func Projection(card *game.Scorecard, dists []*distribution.Histogram, rng dice.Source) int {
	scores := card.Scores
	for _, c := range card.Mask.Categories() {
		scores[c] = 0
		if h := dists[c]; h != nil {
			if s, ok := h.Sample(rng); ok {
				scores[c] = int(s)
			}
		}
	}
	upper := lo.Sum(scores[:category.Sixes+1])
	return lo.Sum(scores[:]) + category.Bonus(upper)
}
