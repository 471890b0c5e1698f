package montecarlo

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/config"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/distribution"
	"github.com/domino14/yatzy/game"
	"github.com/domino14/yatzy/policy"
	"github.com/domino14/yatzy/testhelpers"
)

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Set(config.ConfigDataPath, dir)
	cfg.Set(config.ConfigThreads, 3)
	cfg.Set(config.ConfigGameHighWater, 5)
	cfg.Set(config.ConfigGameLowWater, 1)
	cfg.Set(config.ConfigGameCheckpointEvery, 400)
	return cfg
}

func seeded(l *GameLearner) {
	l.newSource = func(p int) dice.Source {
		return rand.New(rand.NewSource(int64(p) + 100))
	}
}

func randomEpisodes(n int) []Episode {
	holds := testhelpers.HoldTables(3, 1000)
	r := dice.NewRoller(rand.New(rand.NewSource(4)))
	p := game.NewPlayer(holds, r, game.NewRandomSelector(r.Source()))
	eps := make([]Episode, n)
	for i := range eps {
		card, err := p.PlayGame(nil)
		if err != nil {
			panic(err)
		}
		eps[i] = EpisodeFromCard(card)
	}
	return eps
}

func TestEpisodeTotal(t *testing.T) {
	is := is.New(t)
	var ep Episode
	for c := range ep.Score {
		ep.Score[c] = 1
	}
	is.Equal(ep.Total(), uint64(15))
	ep.Score[category.Sixes] = 30
	ep.Score[category.Fives] = 25
	ep.Score[category.Fours] = 4
	// upper total 62 misses the bonus
	is.Equal(ep.Total(), uint64(3+4+25+30+9))
	ep.Score[category.Fours] = 5
	is.Equal(ep.Total(), uint64(3+5+25+30+9+50))
}

func TestAccumulatorMergeAnyOrder(t *testing.T) {
	is := is.New(t)
	eps := randomEpisodes(200)
	split := func(parts []int) *GameAccumulator {
		total := NewGameAccumulator()
		for _, p := range parts {
			part := NewGameAccumulator()
			for i := p; i < len(eps); i += 4 {
				part.Record(&eps[i])
			}
			total.Merge(part)
		}
		return total
	}
	a := split([]int{0, 1, 2, 3})
	b := split([]int{3, 1, 0, 2})
	c := NewGameAccumulator()
	for i := len(eps) - 1; i >= 0; i-- {
		c.Record(&eps[i])
	}
	is.Equal(a.tallies, b.tallies)
	is.Equal(a.tallies, c.tallies)

	var hits uint64
	for _, tl := range a.tallies {
		hits += tl.Hits
	}
	is.Equal(hits, uint64(200*category.NumCategories))
}

func TestAccumulatorSaveLoad(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	a, found, err := LoadGameAccumulator(dir)
	is.NoErr(err)
	is.True(!found)
	is.Equal(a.Len(), 0)

	for _, ep := range randomEpisodes(50) {
		a.Record(&ep)
	}
	is.NoErr(a.Save(dir))
	st, err := os.Stat(filepath.Join(dir, AccumulatorFile))
	is.NoErr(err)
	is.Equal(st.Size(), int64(8+20*a.Len()))

	b, found, err := LoadGameAccumulator(dir)
	is.NoErr(err)
	is.True(found)
	is.Equal(b.tallies, a.tallies)
}

func TestKeySpace(t *testing.T) {
	is := is.New(t)
	is.Equal(KeySpace(), uint64(1966080))
}

func TestStatistics(t *testing.T) {
	is := is.New(t)
	a := NewGameAccumulator()
	_, err := a.Statistics()
	is.True(errors.Is(err, ErrEmpty))

	a.tallies[ScoreKey{Score: 5, Category: category.Chance, Mask: category.FullMask}] = Tally{Hits: 1, Sum: 200}
	a.tallies[ScoreKey{Score: 6, Category: category.Chance, Mask: category.FullMask}] = Tally{Hits: 3, Sum: 750}
	a.tallies[ScoreKey{Score: 0, Category: category.Yatzy, Mask: 1 << category.Yatzy}] = Tally{Hits: 25, Sum: 4000}
	st, err := a.Statistics()
	is.NoErr(err)
	is.Equal(st.Records, 3)
	is.Equal(st.MinHits, uint64(1))
	is.Equal(st.MaxHits, uint64(25))
	is.Equal(st.MinSum, uint64(200))
	is.Equal(st.MaxSum, uint64(4000))
	is.Equal(st.MinAvg, 160.0)
	is.Equal(st.MaxAvg, 250.0)
	is.Equal(st.Buckets[1], uint64(1))
	is.Equal(st.Buckets[3], uint64(1))
	is.Equal(st.Buckets[0], KeySpace()-3)
	is.True(strings.Contains(st.String(), "Records: 3"))
}

func TestSelectionTable(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	a := NewGameAccumulator()
	mask := category.Mask(1<<category.Chance | 1<<category.Sixes)
	final := dice.Encode([]uint8{2, 3, 6, 6, 6})
	a.tallies[ScoreKey{Score: 23, Category: category.Chance, Mask: mask}] = Tally{Hits: 2, Sum: 400}
	a.tallies[ScoreKey{Score: 18, Category: category.Sixes, Mask: mask}] = Tally{Hits: 4, Sum: 840}
	tbl := a.Derive()
	c, avg, ok := tbl.Best(final, mask)
	is.True(ok)
	is.Equal(c, category.Sixes)
	is.Equal(avg, 210.0)

	is.NoErr(tbl.Save(dir))
	got, found, err := LoadSelectionTable(dir)
	is.NoErr(err)
	is.True(found)
	is.Equal(got.avg, tbl.avg)

	sel := TableSelector{Table: got}
	c, err = sel.Select(final, mask)
	is.NoErr(err)
	is.Equal(c, category.Sixes)

	// unseen state, no fallback
	other := category.Mask(1<<category.Chance | 1<<category.Yatzy)
	_, err = sel.Select(final, other)
	is.True(errors.Is(err, game.ErrNoCategory))

	// distribution fallback: 23 is well above chance's mean
	dists := make([]*distribution.Histogram, category.NumCategories)
	dists[category.Chance] = distribution.New(category.Chance)
	dists[category.Chance].AddHits(20, 10)
	dists[category.Yatzy] = distribution.New(category.Yatzy)
	dists[category.Yatzy].AddHits(0, 9)
	dists[category.Yatzy].AddHits(50, 1)
	sel.Fallback = dists
	c, err = sel.Select(final, other)
	is.NoErr(err)
	is.Equal(c, category.Chance)
}

func TestProjection(t *testing.T) {
	is := is.New(t)
	card := game.NewScorecard()
	_, err := card.Fill(category.Chance, dice.Encode([]uint8{6, 6, 6, 6, 6}))
	is.NoErr(err)
	dists := make([]*distribution.Histogram, category.NumCategories)
	for _, c := range category.All() {
		dists[c] = distribution.New(c)
		dists[c].AddHits(uint8(c.MaxScore()), 1)
	}
	// every open category samples its maximum, so the bonus is earned
	want := 0
	for _, c := range category.All() {
		want += c.MaxScore()
	}
	is.Equal(Projection(card, dists, rand.New(rand.NewSource(1))), want+50)
	is.Equal(Projection(card, make([]*distribution.Histogram, category.NumCategories), nil), 30)
}

func TestThrottleStallsAndReleases(t *testing.T) {
	is := is.New(t)
	th := NewThrottle(10, 2)
	for range 20 {
		th.Produced()
	}
	th.Observe(5)
	is.True(th.Holding())
	is.Equal(th.Stalls(), 1)

	done := make(chan struct{})
	go func() {
		th.Produced()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("producer was not stalled")
	case <-time.After(50 * time.Millisecond):
	}
	// release target is 20 - 2
	for n := uint64(6); n < 18; n++ {
		th.Observe(n)
		is.True(th.Holding())
	}
	th.Observe(18)
	is.True(!th.Holding())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still stalled")
	}

	// within the high-water mark nothing is held
	th.Observe(19)
	is.True(!th.Holding())
	th.Release()
}

func TestGameLearnerResumes(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	cfg := testConfig(dir)
	holds := testhelpers.HoldTables(1, 2000)
	l := NewGameLearner(cfg, holds)
	seeded(l)
	is.Equal(l.producers, 3)

	var logbuf bytes.Buffer
	l.logEvery = 100
	l.SetLogStream(&logbuf)

	table, err := l.Learn(context.Background(), 1000)
	is.NoErr(err)
	is.True(table.Len() > 0)

	acc, found, err := LoadGameAccumulator(dir)
	is.NoErr(err)
	is.True(found)
	perCategory := func(a *GameAccumulator) map[category.Category]uint64 {
		m := map[category.Category]uint64{}
		for k, tl := range a.tallies {
			m[k.Category] += tl.Hits
		}
		return m
	}
	for _, hits := range perCategory(acc) {
		is.Equal(hits, uint64(1000))
	}
	is.Equal(table.Len(), acc.Len())

	var logged []LogGame
	is.NoErr(yaml.Unmarshal(logbuf.Bytes(), &logged))
	is.Equal(len(logged), 10)
	is.Equal(len(logged[0].Turns), category.NumCategories)

	// a second run adds to the saved accumulator
	_, err = l.Learn(context.Background(), 500)
	is.NoErr(err)
	acc, _, err = LoadGameAccumulator(dir)
	is.NoErr(err)
	for _, hits := range perCategory(acc) {
		is.Equal(hits, uint64(1500))
	}

	sel, found, err := LoadSelectionTable(dir)
	is.NoErr(err)
	is.True(found)
	is.Equal(sel.Len(), acc.Len())
}

func TestGameLearnerSubLaps(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Set(config.ConfigGameSubLaps, 300)
	cfg.Set(config.ConfigGameProducers, 2)
	l := NewGameLearner(cfg, testhelpers.HoldTables(2, 1000))
	seeded(l)
	_, err := l.Learn(context.Background(), 700)
	is.NoErr(err)

	acc, _, err := LoadGameAccumulator(dir)
	is.NoErr(err)
	var hits uint64
	for k, tl := range acc.tallies {
		if k.Category == category.Yatzy {
			hits += tl.Hits
		}
	}
	is.Equal(hits, uint64(700))
}

func TestGameLearnerCancelledStillSaves(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewGameLearner(testConfig(dir), testhelpers.HoldTables(2, 500))
	_, err := l.Learn(ctx, 1_000_000)
	is.NoErr(err)
	_, found, err := LoadGameAccumulator(dir)
	is.NoErr(err)
	is.True(found)
}

func TestForEachCategoryIsolatesFailures(t *testing.T) {
	is := is.New(t)
	var ran atomic.Int32
	failed := ForEachCategory(context.Background(), 4, category.All(),
		func(_ context.Context, c category.Category, r *dice.Roller) error {
			ran.Add(1)
			if c == category.FullHouse {
				return errors.New("boom")
			}
			return nil
		})
	is.Equal(failed, 1)
	is.Equal(int(ran.Load()), category.NumCategories)
}

func TestLearnHoldsThenDistributions(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	cfg := testConfig(dir)

	cats, err := Categories("")
	is.NoErr(err)
	is.Equal(len(cats), category.NumCategories)
	cats, err = Categories("yatzy")
	is.NoErr(err)
	is.Equal(cats, []category.Category{category.Yatzy})
	_, err = Categories("nope")
	is.True(err != nil)

	// distributions need hold tables
	is.True(LearnDistributions(context.Background(), cfg, []category.Category{category.Ones}, 10) != nil)

	is.NoErr(LearnHolds(context.Background(), cfg, []category.Category{category.Ones, category.Chance}, 20000))
	for _, name := range []string{"hand.ones.bin", "hand.chance.bin"} {
		_, err := os.Stat(filepath.Join(dir, name))
		is.NoErr(err)
	}
	// fill throws the short run never saw so every playout has a hold
	holds, found, err := policy.LoadHoldTable(dir, category.Chance)
	is.NoErr(err)
	is.True(found)
	testhelpers.Complete(holds)
	is.NoErr(holds.Save(dir))

	is.NoErr(LearnDistributions(context.Background(), cfg, []category.Category{category.Chance}, 2000))
	h, found, err := distribution.Load(dir, category.Chance)
	is.NoErr(err)
	is.True(found)
	is.Equal(h.Total(), uint64(2000))
	assert.Greater(t, h.Mean(0), 18.0)
}
