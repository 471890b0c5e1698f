package distribution

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/policy"
)

// rerollAll never holds anything.
func rerollAll(c category.Category) *policy.HoldTable {
	t := policy.NewHoldTable(c)
	for _, thrown := range dice.AllThrows() {
		t.Set(dice.First, thrown, policy.Entry{})
		t.Set(dice.Second, thrown, policy.Entry{})
	}
	return t
}

func TestMean(t *testing.T) {
	is := is.New(t)
	h := New(category.Chance)
	is.Equal(h.Mean(0), 0.0)
	h.Add(10)
	h.Add(20)
	h.AddHits(30, 2)
	is.Equal(h.Total(), uint64(4))
	is.Equal(h.Mean(0), 22.5)
	// non-upper categories get no bonus share
	is.Equal(h.Mean(35), 22.5)

	u := New(category.Sixes)
	u.AddHits(21, 3)
	assert.InDelta(t, 21.0, u.Mean(0), 1e-9)
	assert.InDelta(t, 21.0+50*21.0/63, u.Mean(50), 1e-9)
}

func TestSampleFollowsWeights(t *testing.T) {
	is := is.New(t)
	h := New(category.OnePair)
	_, ok := h.Sample(rand.New(rand.NewSource(1)))
	is.True(!ok)

	h.AddHits(0, 1)
	h.AddHits(12, 3)
	rng := rand.New(rand.NewSource(1))
	counts := map[uint8]int{}
	for range 40000 {
		s, ok := h.Sample(rng)
		is.True(ok)
		counts[s]++
	}
	is.Equal(len(counts), 2)
	assert.InDelta(t, 0.25, float64(counts[0])/40000, 0.02)

	// the sampler picks up later changes
	h.AddHits(6, 1000000)
	hits6 := 0
	for range 1000 {
		if s, _ := h.Sample(rng); s == 6 {
			hits6++
		}
	}
	is.True(hits6 > 990)
}

func TestSaveLoad(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	h := New(category.FullHouse)
	h.AddHits(0, 100)
	h.AddHits(28, 7)
	h.AddHits(17, 12)
	is.NoErr(h.Save(dir))

	got, found, err := Load(dir, category.FullHouse)
	is.NoErr(err)
	is.True(found)
	is.Equal(got.Scores(), []uint8{0, 17, 28})
	is.Equal(got.Hits(28), uint64(7))
	is.Equal(got.Total(), uint64(119))

	_, found, err = Load(dir, category.Yatzy)
	is.NoErr(err)
	is.True(!found)
}

func TestLoadAll(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	h := New(category.Twos)
	h.Add(4)
	is.NoErr(h.Save(dir))

	_, err := LoadAll(dir, true)
	is.True(err != nil)

	all, err := LoadAll(dir, false)
	is.NoErr(err)
	is.Equal(len(all), category.NumCategories)
	is.True(all[category.Twos] != nil)
	is.True(all[category.Ones] == nil)
}

func TestLearnWithHoldTable(t *testing.T) {
	is := is.New(t)
	r := dice.NewRoller(rand.New(rand.NewSource(2)))
	h, err := Learn(context.Background(), rerollAll(category.Yatzy), 10000, r)
	is.NoErr(err)
	is.Equal(h.Total(), uint64(10000))
	for _, s := range h.Scores() {
		is.True(s == 0 || s == 50)
	}

	_, err = Learn(context.Background(), policy.NewHoldTable(category.Yatzy), 10, r)
	is.True(errors.Is(err, policy.ErrNoEntry))
}

func TestLearnedHoldsBeatRerolling(t *testing.T) {
	is := is.New(t)
	r := dice.NewRoller(rand.New(rand.NewSource(4)))
	holds := policy.Learn(context.Background(), category.Sixes, 200000, r)
	// fill stage gaps so every throw has a decision
	for _, thrown := range dice.AllThrows() {
		for s := dice.Stage(0); s < dice.NumStages; s++ {
			if _, err := holds.Lookup(s, thrown); err != nil {
				holds.Set(s, thrown, policy.Entry{})
			}
		}
	}
	learned, err := Learn(context.Background(), holds, 20000, r)
	is.NoErr(err)
	random, err := Learn(context.Background(), rerollAll(category.Sixes), 20000, r)
	is.NoErr(err)
	is.True(learned.Mean(0) > random.Mean(0)+3)
}

func TestPlot(t *testing.T) {
	is := is.New(t)
	h := New(category.Threes)
	h.AddHits(3, 10)
	h.AddHits(6, 20)
	h.AddHits(9, 5)
	var buf bytes.Buffer
	is.NoErr(h.Plot(&buf, 40))
	is.True(buf.Len() > 0)

	single := New(category.Yatzy)
	single.AddHits(50, 3)
	buf.Reset()
	is.NoErr(single.Plot(&buf, 40))
	is.Equal(buf.String(), "50 3\n")
}
