// Package weightsearch tunes the weights of the weighted category selector
// with a parallel local search. Every generation perturbs the best known
// weight vector in every direction of {-step, 0, +step}^15, keeps the best
// candidate of each batch, re-validates it with many more games and merges
// the validated winners into a ranked population.
package weightsearch

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/tablefile"
)

// DefaultWeight is what every weight starts at before any search.
const DefaultWeight = 0.5

// Result is one evaluated weight vector.
type Result struct {
	TotalScore uint32
	TotalBonus uint32
	Laps       uint32
	// UsedBonus is the bonus value the games were played with.
	UsedBonus  uint32
	Generation uint32
	Weights    game.Weights
}

// DefaultResult is the unevaluated starting point of a fresh search.
func DefaultResult() Result {
	var r Result
	for i := range r.Weights {
		r.Weights[i] = DefaultWeight
	}
	return r
}

// Average is the mean game total, bonus included as played.
func (r Result) Average() float64 {
	if r.Laps == 0 {
		return 0
	}
	return (float64(r.TotalScore) + float64(r.TotalBonus)) / float64(r.Laps)
}

// TrueAverage is the mean game total had the real upper bonus been used,
// whatever bonus value the games were played with.
func (r Result) TrueAverage() float64 {
	if r.Laps == 0 {
		return 0
	}
	total := float64(r.TotalScore)
	if r.UsedBonus > 0 {
		total += float64(r.TotalBonus / r.UsedBonus * category.UpperBonus)
	}
	return total / float64(r.Laps)
}

func roundWeights(w game.Weights) game.Weights {
	for i := range w {
		w[i] = float32(math.Round(float64(w[i])*10) / 10)
	}
	return w
}

func fingerprint(w game.Weights) uint64 {
	var b [4 * category.NumCategories]byte
	for i, v := range w {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return xxhash.Sum64(b[:])
}

// Population is the ranked, size-capped set of weight vectors kept across
// generations, best first.
type Population struct {
	mu         sync.Mutex
	generation uint32
	results    []Result
	size       int
	// mergeDuplicates folds results with identical rounded weights into one
	// record with their games pooled.
	mergeDuplicates bool
}

func NewPopulation(size int, mergeDuplicates bool) *Population {
	return &Population{size: max(size, 1), mergeDuplicates: mergeDuplicates}
}

func (p *Population) Generation() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func (p *Population) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

// Best is the highest ranked result, or the default weights if nothing has
// been evaluated yet.
func (p *Population) Best() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return DefaultResult()
	}
	return p.results[0]
}

// Results is a copy of the ranking.
func (p *Population) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.results)
}

// Admit merges the results of generation gen: unevaluated records are
// dropped, the rest ranked by descending average, cut to size, and every
// weight rounded to one decimal.
func (p *Population) Admit(gen uint32, rs []Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation = gen
	for _, r := range rs {
		r.Generation = gen
		p.results = append(p.results, r)
	}
	p.results = lo.Filter(p.results, func(r Result, _ int) bool { return r.Laps > 0 })
	for i := range p.results {
		p.results[i].Weights = roundWeights(p.results[i].Weights)
	}
	if p.mergeDuplicates {
		p.results = mergeDuplicates(p.results)
	}
	slices.SortStableFunc(p.results, func(a, b Result) int {
		return cmp.Compare(b.Average(), a.Average())
	})
	if len(p.results) > p.size {
		p.results = p.results[:p.size]
	}
}

func mergeDuplicates(rs []Result) []Result {
	seen := make(map[uint64]int, len(rs))
	out := rs[:0]
	for _, r := range rs {
		fp := fingerprint(r.Weights)
		if i, ok := seen[fp]; ok && out[i].Weights == r.Weights && out[i].UsedBonus == r.UsedBonus {
			// a pool that would overflow its counters stops growing
			if fitsUint32(out[i].TotalScore, r.TotalScore) && fitsUint32(out[i].TotalBonus, r.TotalBonus) &&
				fitsUint32(out[i].Laps, r.Laps) {
				out[i].TotalScore += r.TotalScore
				out[i].TotalBonus += r.TotalBonus
				out[i].Laps += r.Laps
			}
			out[i].Generation = max(out[i].Generation, r.Generation)
			continue
		}
		seen[fp] = len(out)
		out = append(out, r)
	}
	return out
}

func fitsUint32(a, b uint32) bool {
	return a <= math.MaxUint32-b
}

// FileName is the population file of searches played with the given bonus.
func FileName(bonus uint32) string {
	return fmt.Sprintf("weights.%d.bin", bonus)
}

const generationSize = 4

// [totalScore u32][totalBonus u32][laps u32][usedBonus u32][generation u32][15 x f32]
var resultLayout = tablefile.Layout[Result]{
	Size: 20 + 4*category.NumCategories,
	Put: func(b []byte, r Result) {
		binary.LittleEndian.PutUint32(b[0:4], r.TotalScore)
		binary.LittleEndian.PutUint32(b[4:8], r.TotalBonus)
		binary.LittleEndian.PutUint32(b[8:12], r.Laps)
		binary.LittleEndian.PutUint32(b[12:16], r.UsedBonus)
		binary.LittleEndian.PutUint32(b[16:20], r.Generation)
		for i, w := range r.Weights {
			binary.LittleEndian.PutUint32(b[20+4*i:], math.Float32bits(w))
		}
	},
	Get: func(b []byte) Result {
		r := Result{
			TotalScore: binary.LittleEndian.Uint32(b[0:4]),
			TotalBonus: binary.LittleEndian.Uint32(b[4:8]),
			Laps:       binary.LittleEndian.Uint32(b[8:12]),
			UsedBonus:  binary.LittleEndian.Uint32(b[12:16]),
			Generation: binary.LittleEndian.Uint32(b[16:20]),
		}
		for i := range r.Weights {
			r.Weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[20+4*i:]))
		}
		return r
	},
}

func (p *Population) Save(dir string, bonus uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var header [generationSize]byte
	binary.LittleEndian.PutUint32(header[:], p.generation)
	return tablefile.Save(filepath.Join(dir, FileName(bonus)), header[:], len(p.results),
		slices.Values(p.results), resultLayout)
}

// Load replaces the population with the one saved for bonus. The stored
// order is kept; found is false if there is no such file.
func (p *Population) Load(dir string, bonus uint32) (found bool, err error) {
	var rs []Result
	header, found, err := tablefile.Load(filepath.Join(dir, FileName(bonus)), generationSize, resultLayout,
		func(r Result) { rs = append(rs, r) })
	if err != nil || !found {
		return found, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation = binary.LittleEndian.Uint32(header)
	p.results = rs
	if len(p.results) > p.size {
		p.results = p.results[:p.size]
	}
	return true, nil
}
