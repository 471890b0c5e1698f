package montecarlo

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/distribution"
	"github.com/domino14/yatzy/policy"
)

// CategoryFunc is one category's task. The roller belongs to the task.
type CategoryFunc func(ctx context.Context, c category.Category, r *dice.Roller) error

// ForEachCategory runs fn for every category in cats, at most threads at a
// time. Tasks share nothing; a failing task is logged and does not affect
// the others. It returns how many tasks failed.
func ForEachCategory(ctx context.Context, threads int, cats []category.Category, fn CategoryFunc) int {
	logger := zerolog.Ctx(ctx)
	var g errgroup.Group
	g.SetLimit(max(threads, 1))
	var failed atomic.Int32
	for _, c := range cats {
		g.Go(func() error {
			if err := fn(ctx, c, dice.NewRoller(nil)); err != nil {
				failed.Add(1)
				logger.Err(err).Str("category", c.String()).Msg("category-task-failed")
			}
			return nil
		})
	}
	g.Wait()
	return int(failed.Load())
}

// Categories resolves an optional category argument: all of them, or just
// the one named.
func Categories(only string) ([]category.Category, error) {
	if only == "" {
		return category.All(), nil
	}
	c, err := category.Parse(only)
	if err != nil {
		return nil, err
	}
	return []category.Category{c}, nil
}

// LearnHolds learns and saves the hold table of each category in cats.
func LearnHolds(ctx context.Context, cfg *config.Config, cats []category.Category, laps int) error {
	dir := cfg.DataPath()
	failed := ForEachCategory(ctx, cfg.Threads(), cats, func(ctx context.Context, c category.Category, r *dice.Roller) error {
		zerolog.Ctx(ctx).Info().Str("category", c.String()).Str("laps", printer.Sprintf("%d", laps)).
			Msg("learning-holds")
		t := policy.Learn(ctx, c, laps, r)
		if err := t.Save(dir); err != nil {
			return fmt.Errorf("saving hold table: %w", err)
		}
		return nil
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d hold tables failed", failed, len(cats))
	}
	return nil
}

// LearnDistributions plays each category's learned hold table laps times and
// saves the score distribution. A category whose hold table is missing
// fails on its own.
func LearnDistributions(ctx context.Context, cfg *config.Config, cats []category.Category, laps int) error {
	dir := cfg.DataPath()
	failed := ForEachCategory(ctx, cfg.Threads(), cats, func(ctx context.Context, c category.Category, r *dice.Roller) error {
		t, found, err := policy.LoadHoldTable(dir, c)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no hold table for %v; learn hands first", c)
		}
		zerolog.Ctx(ctx).Info().Str("category", c.String()).Str("laps", printer.Sprintf("%d", laps)).
			Msg("learning-distribution")
		h, err := distribution.Learn(ctx, t, laps, r)
		if err != nil {
			return err
		}
		if err := h.Save(dir); err != nil {
			return fmt.Errorf("saving distribution: %w", err)
		}
		return nil
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d distributions failed", failed, len(cats))
	}
	return nil
}
