package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"lukechampine.com/frand"

	"github.com/domino14/yatzy/cache"
	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/distribution"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/montecarlo"
	"github.com/domino14/yatzy/policy"
	"github.com/domino14/yatzy/stats"
	"github.com/domino14/yatzy/weightsearch"
)

const (
	defaultHandLaps    = 10_000_000
	defaultDistrLaps   = 1_000_000
	defaultGameLaps    = 1_000_000
	defaultGenerations = 1
	defaultPlotWidth   = 60
	defaultWeightRows  = 10
)

type Response struct {
	message string
}

type CmdOptions map[string][]string

func (c CmdOptions) String(key string) string {
	v := c[key]
	if len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c CmdOptions) Int(key string) (int, error) {
	v := c[key]
	if len(v) == 0 {
		return 0, errors.New(key + " not found in options")
	}
	return strconv.Atoi(v[0])
}

func (c CmdOptions) IntDefault(key string, defaultI int) (int, error) {
	v := c[key]
	if len(v) == 0 {
		return defaultI, nil
	}
	return strconv.Atoi(v[0])
}

func (c CmdOptions) Bool(key string) bool {
	v := c[key]
	if len(v) == 0 {
		return false
	}
	return strings.ToLower(v[0]) == "true"
}

func msg(message string) *Response {
	return &Response{message: message}
}

func (sc *ShellController) help(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return msg(usage()), nil
	}
	return msg(usageTopic(cmd.args[0])), nil
}

func (sc *ShellController) set(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		settings := sc.config.SanitizedSettings()
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var sb strings.Builder
		sb.WriteString("Settings:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, settings[k])
		}
		return msg(sb.String()), nil
	}
	key := cmd.args[0]
	if !slices.Contains(sc.config.AllKeys(), key) {
		return nil, fmt.Errorf("no such setting: %s", key)
	}
	if len(cmd.args) == 1 {
		return msg(fmt.Sprintf("%s: %v", key, sc.config.Get(key))), nil
	}
	sc.config.Set(key, cmd.args[1])
	if key == config.ConfigDataPath {
		sc.config.AdjustRelativePaths(sc.execPath)
	}
	return msg("set " + key + " to " + cmd.args[1]), nil
}

// lapsAndCategory reads "[laps] [category]" arguments.
func lapsAndCategory(args []string, defaultLaps int) (int, string, error) {
	laps := defaultLaps
	only := ""
	if len(args) > 0 {
		n, err := strconv.Atoi(strings.ReplaceAll(args[0], "_", ""))
		if err != nil {
			return 0, "", fmt.Errorf("bad lap count %q", args[0])
		}
		if n <= 0 {
			return 0, "", errors.New("lap count must be positive")
		}
		laps = n
	}
	if len(args) > 1 {
		only = args[1]
	}
	if len(args) > 2 {
		return 0, "", errors.New("too many arguments")
	}
	return laps, only, nil
}

func (sc *ShellController) learn(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errors.New("usage: learn hands|distr|game|weights|stop [laps] [category]")
	}
	what, rest := cmd.args[0], cmd.args[1:]
	cfg := sc.config

	switch what {
	case "stop":
		name, ok := sc.stopTask()
		if !ok {
			return nil, errors.New("no learning task is running")
		}
		return msg("stopped " + name), nil

	case "hands":
		laps, only, err := lapsAndCategory(rest, defaultHandLaps)
		if err != nil {
			return nil, err
		}
		cats, err := montecarlo.Categories(only)
		if err != nil {
			return nil, err
		}
		return sc.started("hands", sc.startTask("hands", func(ctx context.Context) error {
			defer cache.Invalidate(cache.KindHoldTables + ":")
			return montecarlo.LearnHolds(ctx, cfg, cats, laps)
		}))

	case "distr":
		laps, only, err := lapsAndCategory(rest, defaultDistrLaps)
		if err != nil {
			return nil, err
		}
		cats, err := montecarlo.Categories(only)
		if err != nil {
			return nil, err
		}
		return sc.started("distr", sc.startTask("distr", func(ctx context.Context) error {
			defer cache.Invalidate(cache.KindDistributions + ":")
			return montecarlo.LearnDistributions(ctx, cfg, cats, laps)
		}))

	case "game":
		laps, _, err := lapsAndCategory(rest, defaultGameLaps)
		if err != nil {
			return nil, err
		}
		holds, err := cache.HoldTables(cfg)
		if err != nil {
			return nil, err
		}
		return sc.started("game", sc.startTask("game", func(ctx context.Context) error {
			l := montecarlo.NewGameLearner(cfg, holds)
			if path := cfg.GetString(config.ConfigGameLogFile); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				l.SetLogStream(f)
			}
			_, err := l.Learn(ctx, int64(laps))
			return err
		}))

	case "weights":
		gens, _, err := lapsAndCategory(rest, defaultGenerations)
		if err != nil {
			return nil, err
		}
		holds, err := cache.HoldTables(cfg)
		if err != nil {
			return nil, err
		}
		return sc.started("weights", sc.startTask("weights", func(ctx context.Context) error {
			best, err := weightsearch.NewSearcher(cfg, holds).Run(ctx, gens)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Float64("best-true-avg", best.TrueAverage()).
				Interface("weights", best.Weights).Msg("weight-search-done")
			return nil
		}))
	}
	return nil, fmt.Errorf("cannot learn %q", what)
}

func (sc *ShellController) started(name string, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	return msg("learning " + name + " started; `learn stop` to stop it"), nil
}

func (sc *ShellController) stats(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errors.New("usage: stats mcscore|distr|holds|weights [category|rows]")
	}
	dir := sc.config.DataPath()
	switch cmd.args[0] {
	case "mcscore":
		acc, found, err := montecarlo.LoadGameAccumulator(dir)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.New("no game accumulator; learn game first")
		}
		st, err := acc.Statistics()
		if err != nil {
			return nil, err
		}
		return msg(st.String()), nil

	case "distr":
		dists, err := cache.Distributions(sc.config)
		if err != nil {
			return nil, err
		}
		if len(cmd.args) > 1 {
			c, err := category.Parse(cmd.args[1])
			if err != nil {
				return nil, err
			}
			h := dists[c]
			if h == nil {
				return nil, fmt.Errorf("no distribution for %v; learn distr first", c)
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "%v: %d plays, mean %.3f\n", c, h.Total(), h.Mean(0))
			if err := h.Plot(&sb, defaultPlotWidth); err != nil {
				return nil, err
			}
			return msg(sb.String()), nil
		}
		var sb strings.Builder
		for _, c := range category.All() {
			if h := dists[c]; h != nil {
				fmt.Fprintf(&sb, "%-16s %12d plays  mean %7.3f\n", c, h.Total(), h.Mean(0))
			} else {
				fmt.Fprintf(&sb, "%-16s not learned\n", c)
			}
		}
		return msg(sb.String()), nil

	case "holds":
		if len(cmd.args) < 2 {
			return nil, errors.New("usage: stats holds <category>")
		}
		c, err := category.Parse(cmd.args[1])
		if err != nil {
			return nil, err
		}
		t, found, err := policy.LoadHoldTable(dir, c)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no hold table for %v; learn hands first", c)
		}
		return msg(fmt.Sprintf("%v: %d entries (%d first throw, %d second throw)",
			c, t.Len(), t.StageLen(dice.First), t.StageLen(dice.Second))), nil

	case "weights":
		rows, err := cmd.options.IntDefault("rows", defaultWeightRows)
		if err != nil {
			return nil, err
		}
		bonus := uint32(max(sc.config.GetInt(config.ConfigWeightsBonus), 0))
		pop := weightsearch.NewPopulation(sc.config.GetInt(config.ConfigWeightsPopulation), false)
		found, err := pop.Load(dir, bonus)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no %s; learn weights first", weightsearch.FileName(bonus))
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Generation: %d\n", pop.Generation())
		sb.WriteString("avg      true_avg  laps      gen  weights\n")
		for i, r := range pop.Results() {
			if i == rows {
				break
			}
			fmt.Fprintf(&sb, "%-8.3f %-8.3f  %-9d %-4d %v\n", r.Average(), r.TrueAverage(), r.Laps, r.Generation, r.Weights)
		}
		return msg(sb.String()), nil
	}
	return nil, fmt.Errorf("no statistics for %q", cmd.args[0])
}

// selector builds the category selector play uses: the learned selection
// table, or the best searched weights.
func (sc *ShellController) selector(kind string, dists []*distribution.Histogram) (game.Selector, error) {
	dir := sc.config.DataPath()
	switch kind {
	case "table":
		t, found, err := montecarlo.LoadSelectionTable(dir)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("no %s; learn game first", montecarlo.SelectionFile)
		}
		return montecarlo.TableSelector{Table: t, Fallback: dists}, nil
	case "", "weights":
		bonus := uint32(max(sc.config.GetInt(config.ConfigWeightsBonus), 0))
		pop := weightsearch.NewPopulation(1, false)
		found, err := pop.Load(dir, bonus)
		if err != nil {
			return nil, err
		}
		if !found {
			log.Info().Msg("no-searched-weights-using-defaults")
		}
		return game.WeightedSelector{Weights: pop.Best().Weights}, nil
	case "random":
		return game.NewRandomSelector(frand.New()), nil
	}
	return nil, fmt.Errorf("unknown selector %q", kind)
}

func (sc *ShellController) play(cmd *shellcmd) (*Response, error) {
	n := 1
	if len(cmd.args) > 0 {
		var err error
		if n, err = strconv.Atoi(cmd.args[0]); err != nil || n < 1 {
			return nil, fmt.Errorf("bad game count %q", cmd.args[0])
		}
	}
	holds, err := cache.HoldTables(sc.config)
	if err != nil {
		return nil, err
	}
	dists, err := cache.Distributions(sc.config)
	if err != nil {
		return nil, err
	}
	sel, err := sc.selector(cmd.options.String("selector"), dists)
	if err != nil {
		return nil, err
	}
	rng := frand.New()
	player := game.NewPlayer(holds, dice.NewRoller(rng), sel)

	totals := &stats.Statistic{}
	var last *game.Scorecard
	for g := 0; g < n; g++ {
		card := game.NewScorecard()
		for !card.Done() {
			turn, err := player.PlayTurn(card)
			if err != nil {
				return nil, err
			}
			log.Debug().Int("game", g+1).Ints("thrown", toInts(turn.Thrown[dice.First].Dice())).
				Str("target", turn.Target[dice.First].String()).
				Ints("hold", toInts(turn.Hold[dice.First].Dice())).
				Ints("second", toInts(turn.Thrown[dice.Second].Dice())).
				Str("target-2", turn.Target[dice.Second].String()).
				Ints("hold-2", toInts(turn.Hold[dice.Second].Dice())).
				Ints("final", toInts(turn.Final.Dice())).
				Str("category", turn.Category.String()).Int("score", turn.Score).
				Int("projected", montecarlo.Projection(card, dists, rng)).
				Msg("turn")
		}
		totals.Push(float64(card.Total()))
		last = card
	}
	var sb strings.Builder
	sb.WriteString(last.String())
	if n > 1 {
		fmt.Fprintf(&sb, "%d games: mean %.2f ± %.2f (95%%), stdev %.2f\n",
			n, totals.Mean(), totals.ConfidenceInterval(95), totals.Stdev())
	}
	return msg(sb.String()), nil
}

func toInts(d []uint8) []int {
	out := make([]int, len(d))
	for i, v := range d {
		out[i] = int(v)
	}
	return out
}
