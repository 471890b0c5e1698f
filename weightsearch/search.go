package weightsearch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/policy"
	"github.com/domino14/yatzy/stats"
	"github.com/domino14/yatzy/tablefile"
)

// SpaceSize is the number of perturbations of one weight vector, 3^15.
const SpaceSize = 14_348_907

// Perturbation decodes idx as fifteen ternary digits, least significant
// digit last: 0 leaves a weight alone, 1 adds step and 2 subtracts it.
func Perturbation(idx uint32, step float32) game.Weights {
	var w game.Weights
	for i := category.NumCategories - 1; i >= 0 && idx > 0; i-- {
		switch idx % 3 {
		case 1:
			w[i] = step
		case 2:
			w[i] = -step
		}
		idx /= 3
	}
	return w
}

// Factor is the smallest divisor of space that is at least workers. Every
// batch of a generation then has the same size, space / Factor.
func Factor(space uint32, workers int) uint32 {
	if workers < 1 {
		workers = 1
	}
	for f := uint32(workers); f < space; f++ {
		if space%f == 0 {
			return f
		}
	}
	return space
}

// Evaluate plays laps games picking categories by weighted score. The upper
// bonus is worth bonus points instead of the usual fifty. It also returns the
// running statistic of the game totals.
func Evaluate(p *game.Player, laps int, w game.Weights, bonus uint32) (Result, *stats.Statistic, error) {
	p.SetSelector(game.WeightedSelector{Weights: w})
	r := Result{Laps: uint32(laps), UsedBonus: bonus, Weights: w}
	totals := &stats.Statistic{}
	for range laps {
		card, err := p.PlayGame(nil)
		if err != nil {
			return Result{}, nil, err
		}
		score := uint32(card.Subtotal())
		var b uint32
		if card.Bonus() > 0 {
			b = bonus
		}
		r.TotalScore += score
		r.TotalBonus += b
		totals.Push(float64(score + b))
	}
	return r, totals, nil
}

// Searcher runs weight-search generations over a population it owns.
type Searcher struct {
	dir            string
	holds          []*policy.HoldTable
	workers        int
	evalLaps       int
	validationLaps int
	step           float32
	bonus          uint32
	saveAttempts   int
	pop            *Population

	// space is SpaceSize except in tests, which search only the trailing
	// weights.
	space uint32
	// newSource builds the randomness of one batch; nil means frand.
	newSource func(batch uint32) dice.Source
	// validated pools the validation games of the last generation's winners.
	validated stats.Statistic
}

func NewSearcher(cfg *config.Config, holds []*policy.HoldTable) *Searcher {
	return &Searcher{
		dir:            cfg.DataPath(),
		holds:          holds,
		workers:        cfg.Threads(),
		evalLaps:       max(cfg.GetInt(config.ConfigWeightsEvalLaps), 1),
		validationLaps: max(cfg.GetInt(config.ConfigWeightsValidationLaps), 1),
		step:           float32(cfg.GetFloat64(config.ConfigWeightsStep)),
		bonus:          uint32(max(cfg.GetInt(config.ConfigWeightsBonus), 0)),
		saveAttempts:   cfg.GetInt(config.ConfigSaveAttempts),
		pop: NewPopulation(cfg.GetInt(config.ConfigWeightsPopulation),
			cfg.GetBool(config.ConfigWeightsMergeDuplicates)),
		space: SpaceSize,
	}
}

func (s *Searcher) Population() *Population {
	return s.pop
}

func (s *Searcher) Bonus() uint32 {
	return s.bonus
}

// Resume loads the population saved for the searcher's bonus, if any.
func (s *Searcher) Resume(ctx context.Context) error {
	found, err := s.pop.Load(s.dir, s.bonus)
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)
	if !found {
		logger.Info().Str("file", FileName(s.bonus)).Msg("no-population-found-starting-from-defaults")
		return nil
	}
	logger.Info().Int("records", s.pop.Len()).Uint32("generation", s.pop.Generation()).
		Float64("best-true-avg", s.pop.Best().TrueAverage()).Msg("population-loaded")
	return nil
}

// Run resumes the saved population and runs generations one after the
// other. A cancelled context stops it after the generation in flight has
// been saved.
func (s *Searcher) Run(ctx context.Context, generations int) (Result, error) {
	if err := s.Resume(ctx); err != nil {
		return Result{}, err
	}
	for range generations {
		if _, err := s.RunGeneration(ctx); err != nil {
			return Result{}, err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return s.pop.Best(), nil
}

// RunGeneration searches every perturbation of the current best weights,
// admits the validated batch winners and saves the population. It returns
// the new best.
func (s *Searcher) RunGeneration(ctx context.Context) (Result, error) {
	logger := zerolog.Ctx(ctx)
	base := s.pop.Best().Weights
	gen := s.pop.Generation() + 1
	factor := Factor(s.space, s.workers)
	batch := s.space / factor

	logger.Info().Uint32("generation", gen).Uint32("batches", factor).Uint32("batch-size", batch).
		Int("eval-laps", s.evalLaps).Int("validation-laps", s.validationLaps).Msg("generation-started")

	var (
		mu        sync.Mutex
		winners   []Result
		validated stats.Statistic
	)
	var g errgroup.Group
	g.SetLimit(max(s.workers, 1))
	for f := range factor {
		g.Go(func() error {
			r, totals, ok, err := s.runBatch(ctx, f, f*batch, f*batch+batch, base)
			if err != nil {
				logger.Err(err).Uint32("batch", f).Msg("batch-failed")
				return nil
			}
			if ok {
				mu.Lock()
				winners = append(winners, r)
				validated.Merge(totals)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	s.validated = validated
	s.pop.Admit(gen, winners)
	best, results := s.pop.Best(), s.pop.Results()
	if len(results) > 0 {
		logger.Info().Uint32("generation", gen).Int("winners", len(winners)).
			Float64("validated-mean", validated.Mean()).
			Float64("validated-ci95", validated.ConfidenceInterval(95)).
			Int("validated-games", validated.Iterations()).
			Float64("best-true-avg", best.TrueAverage()).
			Float64("worst-true-avg", results[len(results)-1].TrueAverage()).Msg("generation-done")
	}

	err := tablefile.Persist(context.WithoutCancel(ctx), s.saveAttempts, FileName(s.bonus), func() error {
		return s.pop.Save(s.dir, s.bonus)
	})
	if err != nil {
		return Result{}, fmt.Errorf("saving population: %w", err)
	}
	return best, nil
}

// runBatch evaluates the perturbations [start, end) of base and validates
// the best one, returning the validated result and its game totals. ok is
// false if the batch was cancelled before it finished.
func (s *Searcher) runBatch(ctx context.Context, id, start, end uint32, base game.Weights) (Result, *stats.Statistic, bool, error) {
	logger := zerolog.Ctx(ctx)
	var src dice.Source
	if s.newSource != nil {
		src = s.newSource(id)
	}
	player := game.NewPlayer(s.holds, dice.NewRoller(src), nil)

	tstart := time.Now()
	var best Result
	found := false
	for idx := start; idx < end; idx++ {
		if ctx.Err() != nil {
			logger.Info().Uint32("batch", id).Uint32("evaluated", idx-start).Msg("batch-interrupted")
			return Result{}, nil, false, nil
		}
		w := Perturbation(idx, s.step)
		for i := range w {
			w[i] += base[i]
		}
		r, _, err := Evaluate(player, s.evalLaps, w, s.bonus)
		if err != nil {
			return Result{}, nil, false, err
		}
		if !found || r.Average() > best.Average() {
			best, found = r, true
		}
	}
	if !found {
		return Result{}, nil, false, nil
	}

	validated, totals, err := Evaluate(player, s.validationLaps, best.Weights, s.bonus)
	if err != nil {
		return Result{}, nil, false, err
	}
	logger.Debug().Uint32("batch", id).Float64("screen-avg", best.Average()).
		Float64("validated-avg", validated.Average()).
		Float64("ci95", totals.ConfidenceInterval(95)).
		Dur("elapsed", time.Since(tstart)).Msg("batch-done")
	return validated, totals, true, nil
}
