package weightsearch

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/testhelpers"
)

func TestPerturbationDigits(t *testing.T) {
	is := is.New(t)
	is.Equal(Perturbation(0, 0.1), game.Weights{})

	w := Perturbation(1, 0.1)
	is.Equal(w[14], float32(0.1))
	w = Perturbation(2, 0.1)
	is.Equal(w[14], float32(-0.1))
	w = Perturbation(3, 0.1)
	is.Equal(w[13], float32(0.1))
	is.Equal(w[14], float32(0))
	// 5 = 12 in base 3
	w = Perturbation(5, 0.1)
	is.Equal(w[13], float32(0.1))
	is.Equal(w[14], float32(-0.1))

	w = Perturbation(SpaceSize-1, 0.1)
	for _, v := range w {
		is.Equal(v, float32(-0.1))
	}
}

func TestPerturbationsAreDistinct(t *testing.T) {
	is := is.New(t)
	seen := map[game.Weights]bool{}
	for i := uint32(0); i < 81; i++ {
		w := Perturbation(i, 0.1)
		is.True(!seen[w])
		seen[w] = true
		for j := 0; j < 11; j++ {
			is.Equal(w[j], float32(0))
		}
	}
	is.Equal(len(seen), 81)
}

func TestFactor(t *testing.T) {
	is := is.New(t)
	is.Equal(Factor(SpaceSize, 15), uint32(27))
	is.Equal(Factor(SpaceSize, 9), uint32(9))
	is.Equal(Factor(SpaceSize, 1), uint32(1))
	is.Equal(Factor(SpaceSize, 0), uint32(1))
	is.Equal(Factor(SpaceSize, 100), uint32(243))
	is.Equal(Factor(27, 100), uint32(27))
	is.Equal(SpaceSize%Factor(SpaceSize, 7), uint32(0))
}

func TestAverages(t *testing.T) {
	is := is.New(t)
	r := Result{TotalScore: 2000, TotalBonus: 300, Laps: 10, UsedBonus: 100}
	is.Equal(r.Average(), 230.0)
	// three bonus games, counted at fifty each
	is.Equal(r.TrueAverage(), 215.0)
	is.Equal(Result{}.TrueAverage(), 0.0)
}

func TestAdmitRanksTruncatesRounds(t *testing.T) {
	is := is.New(t)
	p := NewPopulation(2, false)
	is.Equal(p.Best(), DefaultResult())

	w := DefaultResult().Weights
	w[0] = 0.46
	w[1] = 0.44
	p.Admit(1, []Result{
		{TotalScore: 100, Laps: 1, Weights: w},
		{TotalScore: 300, Laps: 1, Weights: w},
		{TotalScore: 900, Laps: 0, Weights: w},
		{TotalScore: 200, Laps: 1, Weights: w},
	})
	is.Equal(p.Len(), 2)
	is.Equal(p.Generation(), uint32(1))
	rs := p.Results()
	is.Equal(rs[0].TotalScore, uint32(300))
	is.Equal(rs[1].TotalScore, uint32(200))
	is.Equal(rs[0].Generation, uint32(1))
	is.Equal(rs[0].Weights[0], float32(0.5))
	is.Equal(rs[0].Weights[1], float32(0.4))

	p.Admit(2, []Result{{TotalScore: 250, Laps: 1, Weights: w}})
	rs = p.Results()
	is.Equal(rs[1].TotalScore, uint32(250))
	is.Equal(rs[1].Generation, uint32(2))
	is.Equal(rs[0].Generation, uint32(1))
}

func TestAdmitMergesDuplicates(t *testing.T) {
	is := is.New(t)
	p := NewPopulation(10, true)
	a, b := DefaultResult().Weights, DefaultResult().Weights
	b[3] = 0.7
	p.Admit(1, []Result{
		{TotalScore: 200, TotalBonus: 50, UsedBonus: 50, Laps: 1, Weights: a},
		{TotalScore: 100, Laps: 1, UsedBonus: 50, Weights: b},
	})
	p.Admit(2, []Result{{TotalScore: 300, Laps: 2, UsedBonus: 50, Weights: a}})
	is.Equal(p.Len(), 2)
	best := p.Best()
	is.Equal(best.Laps, uint32(3))
	is.Equal(best.TotalScore, uint32(500))
	is.Equal(best.Generation, uint32(2))
}

func TestMergedPoolStopsBeforeOverflow(t *testing.T) {
	is := is.New(t)
	p := NewPopulation(10, true)
	a, b := DefaultResult().Weights, DefaultResult().Weights
	b[0] = 0.6
	p.Admit(0, []Result{{TotalScore: 230_000_000, Laps: 1_000_000, UsedBonus: 50, Weights: b}})
	for gen := uint32(1); gen <= 20; gen++ {
		p.Admit(gen, []Result{{TotalScore: 240_000_000, Laps: 1_000_000, UsedBonus: 50, Weights: a}})
		best := p.Best()
		is.Equal(best.Weights, a)
		is.Equal(best.Average(), 240.0)
		is.Equal(best.Generation, gen)
	}
	// 17 runs fit in the score counter, the 18th would wrap it
	best := p.Best()
	is.Equal(best.Laps, uint32(17_000_000))
	is.Equal(best.TotalScore, uint32(4_080_000_000))
	is.Equal(p.Results()[1].Weights, b)
}

func TestPopulationSaveLoad(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()

	fresh := NewPopulation(10, false)
	found, err := fresh.Load(dir, 50)
	is.NoErr(err)
	is.True(!found)

	p := NewPopulation(10, false)
	w := DefaultResult().Weights
	w[7] = 1.3
	p.Admit(4, []Result{
		{TotalScore: 1234, TotalBonus: 100, Laps: 5, UsedBonus: 50, Weights: w},
		{TotalScore: 999, Laps: 5, UsedBonus: 50, Weights: DefaultResult().Weights},
	})
	is.NoErr(p.Save(dir, 50))

	info, err := os.Stat(filepath.Join(dir, "weights.50.bin"))
	is.NoErr(err)
	is.Equal(info.Size(), int64(8+4+2*80))

	found, err = fresh.Load(dir, 50)
	is.NoErr(err)
	is.True(found)
	is.Equal(fresh.Generation(), uint32(4))
	is.Equal(fresh.Results(), p.Results())

	// a different bonus is a different search
	found, err = fresh.Load(dir, 100)
	is.NoErr(err)
	is.True(!found)
}

func TestEvaluateWithBonus(t *testing.T) {
	is := is.New(t)
	holds := testhelpers.HoldTables(5, 1000)
	p := game.NewPlayer(holds, dice.NewRoller(rand.New(rand.NewSource(6))), nil)

	r, totals, err := Evaluate(p, 40, DefaultResult().Weights, 100)
	is.NoErr(err)
	is.Equal(r.Laps, uint32(40))
	is.Equal(r.UsedBonus, uint32(100))
	is.Equal(r.TotalBonus%100, uint32(0))
	is.True(r.TotalScore > 0)
	is.Equal(totals.Iterations(), 40)
	assert.InDelta(t, r.Average(), totals.Mean(), 1e-9)
}

func testSearcher(t *testing.T, dir string) *Searcher {
	cfg := config.DefaultConfig()
	cfg.Set(config.ConfigDataPath, dir)
	cfg.Set(config.ConfigThreads, 2)
	cfg.Set(config.ConfigWeightsEvalLaps, 2)
	cfg.Set(config.ConfigWeightsValidationLaps, 4)
	s := NewSearcher(cfg, testhelpers.HoldTables(7, 1000))
	// only the last two weights move
	s.space = 9
	s.newSource = func(batch uint32) dice.Source {
		return rand.New(rand.NewSource(int64(batch) + 40))
	}
	return s
}

func TestRunGeneration(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	s := testSearcher(t, dir)

	best, err := s.RunGeneration(context.Background())
	is.NoErr(err)
	// two workers: three batches of three
	is.Equal(s.Population().Len(), 3)
	is.Equal(s.Population().Generation(), uint32(1))
	is.Equal(best.Laps, uint32(4))
	is.Equal(best.Generation, uint32(1))
	for i := 0; i < 13; i++ {
		is.Equal(best.Weights[i], float32(0.5))
	}
	for _, i := range []int{13, 14} {
		assert.Contains(t, []float32{0.4, 0.5, 0.6}, best.Weights[i])
	}
	// the winners' validation games are pooled
	is.Equal(s.validated.Iterations(), 3*4)
	rs := s.Population().Results()
	for i := 1; i < len(rs); i++ {
		is.True(rs[i-1].Average() >= rs[i].Average())
	}

	_, err = os.Stat(filepath.Join(dir, FileName(50)))
	is.NoErr(err)

	// a new searcher resumes the saved generation
	again := testSearcher(t, dir)
	_, err = again.Run(context.Background(), 1)
	is.NoErr(err)
	is.Equal(again.Population().Generation(), uint32(2))
	is.True(again.Population().Len() >= 3)
}

func TestCancelledGenerationAdmitsNothing(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	s := testSearcher(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	best, err := s.RunGeneration(ctx)
	is.NoErr(err)
	is.Equal(s.Population().Len(), 0)
	is.Equal(best, DefaultResult())
	is.Equal(s.validated.Iterations(), 0)
	_, err = os.Stat(filepath.Join(dir, FileName(50)))
	is.NoErr(err)
}
