package policy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/tablefile"
)

// ErrNoEntry means a hold table has never seen the requested throw.
var ErrNoEntry = errors.New("no hold table entry")

// Entry is the learned best hold for one thrown dice code.
type Entry struct {
	HoldLen  uint8
	Hold     dice.Code
	Expected float64
}

// HoldTable is the optimal-hold policy of one category, per throw stage.
// It is written by exactly one learner and is read-only afterwards.
type HoldTable struct {
	Category category.Category
	stages   [dice.NumStages]map[dice.Code]Entry
}

func NewHoldTable(c category.Category) *HoldTable {
	t := &HoldTable{Category: c}
	for i := range t.stages {
		t.stages[i] = make(map[dice.Code]Entry)
	}
	return t
}

func (t *HoldTable) Set(stage dice.Stage, thrown dice.Code, e Entry) {
	t.stages[stage][thrown] = e
}

func (t *HoldTable) Lookup(stage dice.Stage, thrown dice.Code) (Entry, error) {
	e, ok := t.stages[stage][thrown]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %v stage %v throw %v", ErrNoEntry, t.Category, stage, thrown.Dice())
	}
	return e, nil
}

// Len is the total number of entries over both stages.
func (t *HoldTable) Len() int {
	return lo.SumBy(t.stages[:], func(m map[dice.Code]Entry) int { return len(m) })
}

// StageLen is the number of entries of one stage.
func (t *HoldTable) StageLen(stage dice.Stage) int {
	return len(t.stages[stage])
}

// MaxScoreProbability is the expected score of the best hold, as a fraction
// of the most the category can ever score.
func (t *HoldTable) MaxScoreProbability(stage dice.Stage, thrown dice.Code) (float64, error) {
	e, err := t.Lookup(stage, thrown)
	if err != nil {
		return 0, err
	}
	return e.Expected / float64(t.Category.MaxScore()), nil
}

// Entries yields the entries of a stage in ascending thrown-code order.
func (t *HoldTable) Entries(stage dice.Stage) iter.Seq2[dice.Code, Entry] {
	return func(yield func(dice.Code, Entry) bool) {
		m := t.stages[stage]
		keys := lo.Keys(m)
		slices.Sort(keys)
		for _, k := range keys {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

// FileName is the table file of a category's hold policy.
func FileName(c category.Category) string {
	return "hand." + c.String() + ".bin"
}

type holdRecord struct {
	stage  dice.Stage
	thrown dice.Code
	Entry
}

// [stage u8][holdLen u8][thrown u16][hold u16][expected f64]
var holdLayout = tablefile.Layout[holdRecord]{
	Size: 14,
	Put: func(b []byte, r holdRecord) {
		b[0] = uint8(r.stage)
		b[1] = r.HoldLen
		binary.LittleEndian.PutUint16(b[2:4], uint16(r.thrown))
		binary.LittleEndian.PutUint16(b[4:6], uint16(r.Hold))
		binary.LittleEndian.PutUint64(b[6:14], math.Float64bits(r.Expected))
	},
	Get: func(b []byte) holdRecord {
		return holdRecord{
			stage:  dice.Stage(b[0]),
			thrown: dice.Code(binary.LittleEndian.Uint16(b[2:4])),
			Entry: Entry{
				HoldLen:  b[1],
				Hold:     dice.Code(binary.LittleEndian.Uint16(b[4:6])),
				Expected: math.Float64frombits(binary.LittleEndian.Uint64(b[6:14])),
			},
		}
	},
}

func (t *HoldTable) records() iter.Seq[holdRecord] {
	return func(yield func(holdRecord) bool) {
		for s := dice.Stage(0); s < dice.NumStages; s++ {
			for thrown, e := range t.Entries(s) {
				if !yield(holdRecord{stage: s, thrown: thrown, Entry: e}) {
					return
				}
			}
		}
	}
}

// Save writes the table to its file under dir, replacing any earlier one.
func (t *HoldTable) Save(dir string) error {
	return tablefile.Save(filepath.Join(dir, FileName(t.Category)), nil, t.Len(), t.records(), holdLayout)
}

// LoadHoldTable reads the hold table of c from dir. found is false when no
// table has been learned yet.
func LoadHoldTable(dir string, c category.Category) (t *HoldTable, found bool, err error) {
	t = NewHoldTable(c)
	path := filepath.Join(dir, FileName(c))
	var bad error
	_, found, err = tablefile.Load(path, 0, holdLayout, func(r holdRecord) {
		if r.stage >= dice.NumStages {
			if bad == nil {
				bad = fmt.Errorf("%s: bad throw stage %d", path, r.stage)
			}
			return
		}
		t.stages[r.stage][r.thrown] = r.Entry
	})
	if err != nil {
		return nil, found, err
	}
	if bad != nil {
		return nil, found, bad
	}
	return t, found, nil
}

// LoadAll loads the hold tables of every category, indexed by category id.
// Any missing table is an error.
func LoadAll(dir string) ([]*HoldTable, error) {
	tables := make([]*HoldTable, category.NumCategories)
	for _, c := range category.All() {
		t, found, err := LoadHoldTable(dir, c)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no hold table for %v in %s; learn hands first", c, dir)
		}
		tables[c] = t
	}
	return tables, nil
}
