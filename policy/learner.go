// Package policy learns, per category, which dice to hold after each of the
// first two throws. Learning is tabular Monte Carlo over uniformly random
// holds, followed by a single argmax pass that keeps only holds short
// enough for the category.
package policy

import (
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
)

const ctxCheckEvery = 1 << 16

type holdKey struct {
	thrown dice.Code
	hold   dice.Code
}

type tally struct {
	holdLen uint8
	hits    uint64
	sum     float64
}

// Accumulator collects (hits, score sum) per thrown code and hold code for
// both throw stages. Updates commute, so merge order does not matter.
type Accumulator struct {
	stages [dice.NumStages]map[holdKey]tally
}

func NewAccumulator() *Accumulator {
	a := &Accumulator{}
	for i := range a.stages {
		a.stages[i] = make(map[holdKey]tally)
	}
	return a
}

func (a *Accumulator) Update(stage dice.Stage, thrown, hold dice.Code, holdLen uint8, score float64) {
	k := holdKey{thrown, hold}
	t := a.stages[stage][k]
	t.holdLen = holdLen
	t.hits++
	t.sum += score
	a.stages[stage][k] = t
}

// Merge adds every tally of o into a.
func (a *Accumulator) Merge(o *Accumulator) {
	for s := range o.stages {
		for k, ot := range o.stages[s] {
			t := a.stages[s][k]
			t.holdLen = ot.holdLen
			t.hits += ot.hits
			t.sum += ot.sum
			a.stages[s][k] = t
		}
	}
}

func (a *Accumulator) Len(stage dice.Stage) int {
	return len(a.stages[stage])
}

// Derive builds the optimal-hold table for c: for each observed throw, the
// hold with the highest average score among holds no longer than c's
// minimum-hold threshold. Keys are visited in ascending order and the first
// strictly greater average wins ties.
func (a *Accumulator) Derive(c category.Category) *HoldTable {
	t := NewHoldTable(c)
	limit := c.MinHold()
	for s := dice.Stage(0); s < dice.NumStages; s++ {
		m := a.stages[s]
		keys := lo.Keys(m)
		slices.SortFunc(keys, func(x, y holdKey) int {
			if r := cmp.Compare(x.thrown, y.thrown); r != 0 {
				return r
			}
			return cmp.Compare(x.hold, y.hold)
		})
		best := t.stages[s]
		for _, k := range keys {
			tl := m[k]
			if tl.holdLen > limit || tl.hits == 0 {
				continue
			}
			avg := tl.sum / float64(tl.hits)
			if cur, ok := best[k.thrown]; ok && avg <= cur.Expected {
				continue
			}
			best[k.thrown] = Entry{HoldLen: tl.holdLen, Hold: k.hold, Expected: avg}
		}
	}
	return t
}

// Episode is one randomly played three-throw turn.
type Episode struct {
	Thrown  [dice.NumStages]dice.Code
	Hold    [dice.NumStages]dice.Code
	HoldLen [dice.NumStages]uint8
	Final   dice.Code
	Score   int
}

// PlayRandomEpisode throws, holds a random subset twice, and scores the
// final throw for c.
func PlayRandomEpisode(r *dice.Roller, c category.Category) Episode {
	var ep Episode
	var hold []uint8
	for s := range dice.NumStages {
		thrown := r.Throw(hold)
		hold = r.RandomHold(thrown)
		ep.Thrown[s] = dice.Encode(thrown)
		ep.Hold[s] = dice.Encode(hold)
		ep.HoldLen[s] = uint8(len(hold))
	}
	final := r.Throw(hold)
	ep.Final = dice.Encode(final)
	ep.Score = c.Score(final)
	return ep
}

// Record adds one episode to the accumulator.
func (a *Accumulator) Record(ep Episode) {
	for s := range dice.NumStages {
		a.Update(dice.Stage(s), ep.Thrown[s], ep.Hold[s], ep.HoldLen[s], float64(ep.Score))
	}
}

// Learn plays laps random episodes of c and derives its hold table. The
// roller is owned by the caller and must not be shared. Learning stops
// early, returning what it has, if ctx is cancelled.
func Learn(ctx context.Context, c category.Category, laps int, r *dice.Roller) *HoldTable {
	logger := zerolog.Ctx(ctx).With().Str("category", c.String()).Logger()
	acc := NewAccumulator()
	for i := 0; i < laps; i++ {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			logger.Warn().Int("laps-done", i).Msg("hold-learning-interrupted")
			break
		}
		acc.Record(PlayRandomEpisode(r, c))
	}
	t := acc.Derive(c)
	logger.Debug().Int("first", t.StageLen(dice.First)).Int("second", t.StageLen(dice.Second)).
		Msg("derived-hold-table")
	return t
}
