// Package distribution collects, per category, the histogram of final
// scores reached when the category's learned hold policy is played out,
// and samples plausible scores from it.
package distribution

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"slices"
	"sort"

	"github.com/aybabtme/uniplot/barchart"
	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/tablefile"
)

// Histogram maps achieved scores of one category to hit counts. The
// cumulative sampler is rebuilt lazily after every change.
type Histogram struct {
	Category category.Category
	hits     map[uint8]uint64
	total    uint64

	dirty  bool
	scores []uint8
	cum    []uint64
}

func New(c category.Category) *Histogram {
	return &Histogram{Category: c, hits: make(map[uint8]uint64)}
}

func (h *Histogram) Add(score int) {
	h.AddHits(uint8(score), 1)
}

func (h *Histogram) AddHits(score uint8, n uint64) {
	if n == 0 {
		return
	}
	h.hits[score] += n
	h.total += n
	h.dirty = true
}

func (h *Histogram) Hits(score uint8) uint64 {
	return h.hits[score]
}

// Total is the number of recorded episodes.
func (h *Histogram) Total() uint64 {
	return h.total
}

// Scores lists the observed scores in ascending order.
func (h *Histogram) Scores() []uint8 {
	s := lo.Keys(h.hits)
	slices.Sort(s)
	return s
}

// Mean is the average score. For the six upper categories, it is raised by
// the category's proportional share of extraBonusShare, the part of the
// upper bonus the caller expects to earn; other categories ignore it.
func (h *Histogram) Mean(extraBonusShare float64) float64 {
	if h.total == 0 {
		return 0
	}
	var sum float64
	for s, n := range h.hits {
		sum += float64(s) * float64(n)
	}
	mean := sum / float64(h.total)
	if h.Category.Upper() {
		mean += extraBonusShare * mean / category.UpperBonusThreshold
	}
	return mean
}

func (h *Histogram) rebuild() {
	h.scores = h.Scores()
	h.cum = h.cum[:0]
	var acc uint64
	for _, s := range h.scores {
		acc += h.hits[s]
		h.cum = append(h.cum, acc)
	}
	h.dirty = false
}

// Sample draws a score with probability proportional to its hit count.
// It returns false for an empty histogram.
func (h *Histogram) Sample(rng dice.Source) (uint8, bool) {
	if h.total == 0 {
		return 0, false
	}
	if h.dirty {
		h.rebuild()
	}
	x := uint64(rng.Intn(int(h.total)))
	i := sort.Search(len(h.cum), func(i int) bool { return h.cum[i] > x })
	return h.scores[i], true
}

// Plot writes a bar chart of hits per score.
func (h *Histogram) Plot(w io.Writer, width int) error {
	xys := lo.Map(h.Scores(), func(s uint8, _ int) [2]int {
		return [2]int{int(s), int(h.hits[s])}
	})
	p := barchart.BarChartXYs(xys)
	if len(xys) < 2 || p.MinY == p.MaxY {
		for _, xy := range xys {
			if _, err := fmt.Fprintf(w, "%d %d\n", xy[0], xy[1]); err != nil {
				return err
			}
		}
		return nil
	}
	return barchart.Fprint(w, p, barchart.Linear(width))
}

// FileName is the table file of a category's score distribution.
func FileName(c category.Category) string {
	return "distr." + c.String() + ".bin"
}

type hitRecord struct {
	score uint8
	hits  uint64
}

// [score u8][hits u64]
var hitLayout = tablefile.Layout[hitRecord]{
	Size: 9,
	Put: func(b []byte, r hitRecord) {
		b[0] = r.score
		binary.LittleEndian.PutUint64(b[1:9], r.hits)
	},
	Get: func(b []byte) hitRecord {
		return hitRecord{score: b[0], hits: binary.LittleEndian.Uint64(b[1:9])}
	},
}

func (h *Histogram) records() iter.Seq[hitRecord] {
	return func(yield func(hitRecord) bool) {
		for _, s := range h.Scores() {
			if !yield(hitRecord{s, h.hits[s]}) {
				return
			}
		}
	}
}

func (h *Histogram) Save(dir string) error {
	return tablefile.Save(filepath.Join(dir, FileName(h.Category)), nil, len(h.hits), h.records(), hitLayout)
}

// Load reads the distribution of c from dir; found is false if it was
// never learned.
func Load(dir string, c category.Category) (h *Histogram, found bool, err error) {
	h = New(c)
	_, found, err = tablefile.Load(filepath.Join(dir, FileName(c)), 0, hitLayout, func(r hitRecord) {
		h.AddHits(r.score, r.hits)
	})
	if err != nil {
		return nil, found, err
	}
	return h, found, nil
}

// LoadAll loads every category's distribution, indexed by category id.
// With fail set, a missing or unreadable file is an error; otherwise that
// category is left nil.
func LoadAll(dir string, fail bool) ([]*Histogram, error) {
	res := make([]*Histogram, category.NumCategories)
	for _, c := range category.All() {
		h, found, err := Load(dir, c)
		if err == nil && !found {
			err = fmt.Errorf("no distribution for %v in %s", c, dir)
		}
		if err != nil {
			if fail {
				return nil, err
			}
			continue
		}
		res[c] = h
	}
	return res, nil
}
