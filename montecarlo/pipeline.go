package montecarlo

import (
	"context"
	"fmt"
	"io"
	"time"
	"unsafe"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/policy"
	"github.com/domino14/yatzy/tablefile"
)

var printer = message.NewPrinter(language.English)

// LogGame is one game written to the optional YAML game log.
type LogGame struct {
	Episode uint64    `yaml:"episode"`
	Total   uint64    `yaml:"total"`
	Turns   []LogTurn `yaml:"turns,flow"`
}

type LogTurn struct {
	Category string `yaml:"category"`
	Open     int    `yaml:"open"`
	Score    uint8  `yaml:"score"`
}

func logGame(n uint64, ep *Episode) LogGame {
	lg := LogGame{Episode: n, Total: ep.Total()}
	for _, c := range category.All() {
		lg.Turns = append(lg.Turns, LogTurn{Category: c.String(), Open: ep.Mask[c].Len(), Score: ep.Score[c]})
	}
	return lg
}

// GameLearner learns the category-selection table. Producers play whole
// games with the learned hold tables, picking categories at random, and a
// single reducer merges every game into the authoritative accumulator.
type GameLearner struct {
	dir             string
	holds           []*policy.HoldTable
	producers       int
	high, low       uint64
	subLaps         int64
	checkpointEvery uint64
	saveAttempts    int
	logEvery        uint64
	logStream       io.Writer

	// newSelector builds the per-producer category selector.
	newSelector func(rng dice.Source) game.Selector
	// newSource builds the per-producer randomness; nil means frand.
	newSource func(producer int) dice.Source
}

func NewGameLearner(cfg *config.Config, holds []*policy.HoldTable) *GameLearner {
	producers := cfg.GetInt(config.ConfigGameProducers)
	if producers <= 0 {
		producers = cfg.Threads()
	}
	return &GameLearner{
		dir:             cfg.DataPath(),
		holds:           holds,
		producers:       producers,
		high:            uint64(max(cfg.GetInt64(config.ConfigGameHighWater), 1)),
		low:             uint64(max(cfg.GetInt64(config.ConfigGameLowWater), 0)),
		subLaps:         max(cfg.GetInt64(config.ConfigGameSubLaps), 1),
		checkpointEvery: uint64(max(cfg.GetInt64(config.ConfigGameCheckpointEvery), 0)),
		saveAttempts:    cfg.GetInt(config.ConfigSaveAttempts),
		logEvery:        uint64(max(cfg.GetInt64(config.ConfigGameLogEvery), 0)),
		newSelector: func(rng dice.Source) game.Selector {
			return game.NewRandomSelector(rng)
		},
	}
}

// SetLogStream makes the reducer write every logEvery-th game to w as YAML.
func (l *GameLearner) SetLogStream(w io.Writer) {
	l.logStream = w
}

// Learn plays laps games in runs of at most the configured sub-laps. Each
// run resumes from the accumulator saved by the one before it. It returns
// the selection table derived at the end of the last run.
func (l *GameLearner) Learn(ctx context.Context, laps int64) (*SelectionTable, error) {
	logger := zerolog.Ctx(ctx)
	var table *SelectionTable
	for laps > 0 {
		run := min(laps, l.subLaps)
		if run < laps {
			logger.Info().Str("laps-left", printer.Sprintf("%d", laps)).
				Str("sub-laps", printer.Sprintf("%d", l.subLaps)).Msg("game-learning-in-sub-laps")
		}
		t, err := l.learnRun(ctx, run)
		if err != nil {
			return nil, err
		}
		table = t
		laps -= run
		if ctx.Err() != nil {
			break
		}
	}
	return table, nil
}

// channelCap sizes the episode channel: the high-water mark, but never more
// than a sixteenth of physical memory.
func (l *GameLearner) channelCap() int {
	size := uint64(unsafe.Sizeof(Episode{}))
	c := l.high
	if total := memory.TotalMemory(); total > 0 && c*size > total/16 {
		c = total / 16 / size
	}
	return int(max(c, 1))
}

func (l *GameLearner) learnRun(ctx context.Context, laps int64) (*SelectionTable, error) {
	logger := zerolog.Ctx(ctx)

	acc, found, err := LoadGameAccumulator(l.dir)
	if err != nil {
		return nil, err
	}
	if found {
		logger.Info().Int("records", acc.Len()).Msg("resuming-game-accumulator")
	} else {
		logger.Info().Msg("no-game-accumulator-found-starting-new")
	}

	chcap := l.channelCap()
	logger.Info().Int("producers", l.producers).Uint64("high-water", l.high).Uint64("low-water", l.low).
		Int("channel-cap", chcap).Uint64("total-memory", memory.TotalMemory()).
		Str("laps", printer.Sprintf("%d", laps)).Msg("game-learning-started")

	ch := make(chan Episode, chcap)
	throttle := NewThrottle(l.high, l.low)

	var g errgroup.Group
	share := laps / int64(l.producers)
	extra := laps % int64(l.producers)
	for p := 0; p < l.producers; p++ {
		n := share
		if int64(p) < extra {
			n++
		}
		g.Go(func() error {
			if err := l.produce(ctx, p, n, ch, throttle); err != nil {
				logger.Err(err).Int("producer", p).Msg("game-producer-failed")
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(ch)
	}()

	tstart := time.Now()
	var consumed uint64
	for ep := range ch {
		acc.Record(&ep)
		consumed++
		throttle.Observe(consumed)

		if l.logStream != nil && l.logEvery > 0 && consumed%l.logEvery == 0 {
			out, err := yaml.Marshal([]LogGame{logGame(consumed, &ep)})
			if err == nil {
				_, err = l.logStream.Write(out)
			}
			if err != nil {
				logger.Err(err).Msg("game-log-write-failed")
			}
		}
		if l.checkpointEvery > 0 && consumed%l.checkpointEvery == 0 {
			logger.Info().Str("processed", printer.Sprintf("%d", consumed)).Int("stalls", throttle.Stalls()).
				Msg("checkpointing-game-accumulator")
			if err := acc.Save(l.dir); err != nil {
				logger.Err(err).Msg("checkpoint-failed")
			}
		}
	}
	throttle.Release()

	logger.Info().Str("processed", printer.Sprintf("%d", consumed)).Int("stalls", throttle.Stalls()).
		Float64("seconds", time.Since(tstart).Seconds()).Msg("producers-done-saving-game-accumulator")

	err = tablefile.Persist(context.WithoutCancel(ctx), l.saveAttempts, AccumulatorFile, func() error {
		return acc.Save(l.dir)
	})
	if err != nil {
		return nil, fmt.Errorf("saving game accumulator: %w", err)
	}

	table := acc.Derive()
	logger.Info().Int("entries", table.Len()).Msg("saving-selection-table")
	err = tablefile.Persist(context.WithoutCancel(ctx), l.saveAttempts, SelectionFile, func() error {
		return table.Save(l.dir)
	})
	if err != nil {
		return nil, fmt.Errorf("saving selection table: %w", err)
	}
	return table, nil
}

func (l *GameLearner) produce(ctx context.Context, id int, laps int64, ch chan<- Episode, throttle *Throttle) error {
	logger := zerolog.Ctx(ctx)
	var src dice.Source
	if l.newSource != nil {
		src = l.newSource(id)
	}
	roller := dice.NewRoller(src)
	player := game.NewPlayer(l.holds, roller, l.newSelector(roller.Source()))

	logger.Debug().Int("producer", id).Int64("laps", laps).Msg("producer-starting")
	for i := int64(0); i < laps; i++ {
		if ctx.Err() != nil {
			logger.Info().Int("producer", id).Int64("laps-done", i).Msg("producer-interrupted")
			return nil
		}
		card, err := player.PlayGame(nil)
		if err != nil {
			return err
		}
		throttle.Produced()
		ch <- EpisodeFromCard(card)
	}
	logger.Debug().Int("producer", id).Msg("producer-done")
	return nil
}
