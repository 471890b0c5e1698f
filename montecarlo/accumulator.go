// Package montecarlo runs the learners concurrently: one independent worker
// per category for hold policies and score distributions, and a
// multi-producer, single-reducer pipeline that learns which category to
// score a final throw in from whole simulated games.
package montecarlo

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/tablefile"
)

const AccumulatorFile = "mcscore.bin"

// ScoreKey is the state a category was scored in: the score it got, the
// category, and the categories open at that moment.
type ScoreKey struct {
	Score    uint8
	Category category.Category
	Mask     category.Mask
}

func (k ScoreKey) compare(o ScoreKey) int {
	if r := cmp.Compare(k.Category, o.Category); r != 0 {
		return r
	}
	if r := cmp.Compare(k.Mask, o.Mask); r != 0 {
		return r
	}
	return cmp.Compare(k.Score, o.Score)
}

type Tally struct {
	Hits uint64
	Sum  uint64
}

func (t Tally) Average() float64 {
	if t.Hits == 0 {
		return 0
	}
	return float64(t.Sum) / float64(t.Hits)
}

// Episode is what a producer reports for one finished game: every
// category's score and the mask it was scored under.
type Episode struct {
	Mask  [category.NumCategories]category.Mask
	Score [category.NumCategories]uint8
}

func EpisodeFromCard(card *game.Scorecard) Episode {
	var ep Episode
	for _, c := range category.All() {
		ep.Mask[c] = card.MaskAt[c]
		ep.Score[c] = uint8(card.Scores[c])
	}
	return ep
}

// Total is the game total including the upper bonus.
func (ep *Episode) Total() uint64 {
	var upper, all int
	for c, s := range ep.Score {
		all += int(s)
		if category.Category(c).Upper() {
			upper += int(s)
		}
	}
	return uint64(all + category.Bonus(upper))
}

// GameAccumulator credits the total game score to every (score, category,
// mask) state visited in the game. It is owned by a single reducer.
type GameAccumulator struct {
	tallies map[ScoreKey]Tally
}

func NewGameAccumulator() *GameAccumulator {
	return &GameAccumulator{tallies: make(map[ScoreKey]Tally)}
}

func (a *GameAccumulator) Record(ep *Episode) {
	total := ep.Total()
	for c := range ep.Score {
		k := ScoreKey{Score: ep.Score[c], Category: category.Category(c), Mask: ep.Mask[c]}
		t := a.tallies[k]
		t.Hits++
		t.Sum += total
		a.tallies[k] = t
	}
}

func (a *GameAccumulator) Merge(o *GameAccumulator) {
	for k, ot := range o.tallies {
		t := a.tallies[k]
		t.Hits += ot.Hits
		t.Sum += ot.Sum
		a.tallies[k] = t
	}
}

func (a *GameAccumulator) Len() int {
	return len(a.tallies)
}

func (a *GameAccumulator) sortedKeys() []ScoreKey {
	keys := lo.Keys(a.tallies)
	slices.SortFunc(keys, ScoreKey.compare)
	return keys
}

type tallyRecord struct {
	ScoreKey
	Tally
}

// [score u8][category u8][mask u16][hits u64][sum u64]
var tallyLayout = tablefile.Layout[tallyRecord]{
	Size: 20,
	Put: func(b []byte, r tallyRecord) {
		b[0] = r.Score
		b[1] = uint8(r.Category)
		binary.LittleEndian.PutUint16(b[2:4], uint16(r.Mask))
		binary.LittleEndian.PutUint64(b[4:12], r.Hits)
		binary.LittleEndian.PutUint64(b[12:20], r.Sum)
	},
	Get: func(b []byte) tallyRecord {
		return tallyRecord{
			ScoreKey: ScoreKey{
				Score:    b[0],
				Category: category.Category(b[1]),
				Mask:     category.Mask(binary.LittleEndian.Uint16(b[2:4])),
			},
			Tally: Tally{
				Hits: binary.LittleEndian.Uint64(b[4:12]),
				Sum:  binary.LittleEndian.Uint64(b[12:20]),
			},
		}
	},
}

func (a *GameAccumulator) records() iter.Seq[tallyRecord] {
	return func(yield func(tallyRecord) bool) {
		for _, k := range a.sortedKeys() {
			if !yield(tallyRecord{k, a.tallies[k]}) {
				return
			}
		}
	}
}

func (a *GameAccumulator) Save(dir string) error {
	return tablefile.Save(filepath.Join(dir, AccumulatorFile), nil, len(a.tallies), a.records(), tallyLayout)
}

// LoadGameAccumulator reads mcscore.bin from dir. A missing file gives an
// empty accumulator with found set to false.
func LoadGameAccumulator(dir string) (a *GameAccumulator, found bool, err error) {
	a = NewGameAccumulator()
	_, found, err = tablefile.Load(filepath.Join(dir, AccumulatorFile), 0, tallyLayout, func(r tallyRecord) {
		a.tallies[r.ScoreKey] = r.Tally
	})
	if err != nil {
		return nil, found, err
	}
	return a, found, nil
}

// KeySpace is the number of distinct states a complete accumulator could
// hold: every achievable score of every category under every mask that
// still has the category open.
func KeySpace() uint64 {
	throws := dice.AllThrows()
	var n uint64
	for _, c := range category.All() {
		scores := lo.Uniq(lo.Map(throws, func(t dice.Code, _ int) int { return c.Score(t.Dice()) }))
		n += uint64(len(scores)) << (category.NumCategories - 1)
	}
	return n
}

const hitBuckets = 20

// Statistics summarizes how well the accumulator covers the state space.
// Buckets[h] counts states seen exactly h times; Buckets[0] counts states
// never seen.
type Statistics struct {
	Records          int
	MinHits, MaxHits uint64
	MinSum, MaxSum   uint64
	MinAvg, MaxAvg   float64
	Buckets          [hitBuckets]uint64
}

var ErrEmpty = errors.New("accumulator is empty")

func (a *GameAccumulator) Statistics() (Statistics, error) {
	var st Statistics
	if len(a.tallies) == 0 {
		return st, ErrEmpty
	}
	first := true
	for _, t := range a.tallies {
		avg := t.Average()
		if first {
			st.MinHits, st.MaxHits = t.Hits, t.Hits
			st.MinSum, st.MaxSum = t.Sum, t.Sum
			st.MinAvg, st.MaxAvg = avg, avg
			first = false
		}
		st.MinHits, st.MaxHits = min(st.MinHits, t.Hits), max(st.MaxHits, t.Hits)
		st.MinSum, st.MaxSum = min(st.MinSum, t.Sum), max(st.MaxSum, t.Sum)
		st.MinAvg, st.MaxAvg = min(st.MinAvg, avg), max(st.MaxAvg, avg)
		if t.Hits < hitBuckets {
			st.Buckets[t.Hits]++
		}
		st.Records++
	}
	if space := KeySpace(); space > uint64(st.Records) {
		st.Buckets[0] = space - uint64(st.Records)
	}
	return st, nil
}

func (st Statistics) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Records: %d\n", st.Records)
	fmt.Fprintf(&sb, "Hits: min %d max %d\n", st.MinHits, st.MaxHits)
	fmt.Fprintf(&sb, "Score sum: min %d max %d\n", st.MinSum, st.MaxSum)
	fmt.Fprintf(&sb, "Score: min %.2f max %.2f\n", st.MinAvg, st.MaxAvg)
	fmt.Fprintf(&sb, "Hit buckets [0-%d]: %v\n", hitBuckets-1, st.Buckets)
	return sb.String()
}
