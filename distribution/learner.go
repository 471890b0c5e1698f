package distribution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/policy"
)

// PlayEpisode plays one turn of the table's category following its learned
// holds and returns the final score.
func PlayEpisode(r *dice.Roller, t *policy.HoldTable) (int, error) {
	var hold dice.Code
	for s := dice.Stage(0); s < dice.NumStages; s++ {
		thrown := r.ThrowCode(hold)
		e, err := t.Lookup(s, thrown)
		if err != nil {
			return 0, err
		}
		hold = e.Hold
	}
	return t.Category.Score(r.ThrowCode(hold).Dice()), nil
}

// Learn plays laps episodes with the hold table and histograms the scores.
// A missing hold entry ends learning with an error.
func Learn(ctx context.Context, t *policy.HoldTable, laps int, r *dice.Roller) (*Histogram, error) {
	h := New(t.Category)
	for i := 0; i < laps; i++ {
		if i&0xffff == 0 && ctx.Err() != nil {
			zerolog.Ctx(ctx).Warn().Str("category", t.Category.String()).Int("laps-done", i).
				Msg("distribution-learning-interrupted")
			break
		}
		score, err := PlayEpisode(r, t)
		if err != nil {
			return nil, err
		}
		h.Add(score)
	}
	return h, nil
}
