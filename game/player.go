package game

import (
	"fmt"

	"github.com/domino14/yatzy/category"
	"github.com/domino14/yatzy/dice"
	"github.com/domino14/yatzy/policy"
)

// Turn records the decisions of one three-throw turn.
type Turn struct {
	Mask     category.Mask
	Thrown   [dice.NumStages]dice.Code
	Target   [dice.NumStages]category.Category
	Hold     [dice.NumStages]dice.Code
	Final    dice.Code
	Category category.Category
	Score    int
}

// Player plays games with learned hold tables, one per category id. It
// owns its roller and is not safe for concurrent use.
type Player struct {
	holds    []*policy.HoldTable
	roller   *dice.Roller
	selector Selector
}

func NewPlayer(holds []*policy.HoldTable, r *dice.Roller, sel Selector) *Player {
	return &Player{holds: holds, roller: r, selector: sel}
}

func (p *Player) SetSelector(sel Selector) {
	p.selector = sel
}

// Target picks the open category whose best hold for this throw promises the
// highest fraction of that category's maximum score, and returns the hold.
func (p *Player) Target(stage dice.Stage, thrown dice.Code, mask category.Mask) (category.Category, policy.Entry, error) {
	var (
		best      category.Category
		bestEntry policy.Entry
		bestProb  = -1.0
	)
	for _, c := range mask.Categories() {
		t := p.holds[c]
		if t == nil {
			return 0, policy.Entry{}, fmt.Errorf("no hold table loaded for %v", c)
		}
		e, err := t.Lookup(stage, thrown)
		if err != nil {
			return 0, policy.Entry{}, err
		}
		prob := e.Expected / float64(c.MaxScore())
		if prob > bestProb {
			best, bestEntry, bestProb = c, e, prob
		}
	}
	if bestProb < 0 {
		return 0, policy.Entry{}, ErrNoCategory
	}
	return best, bestEntry, nil
}

// PlayTurn throws three times, holding per the targeted category after the
// first two throws, then scores the final dice in the selected category.
func (p *Player) PlayTurn(card *Scorecard) (Turn, error) {
	turn := Turn{Mask: card.Mask}
	if card.Done() {
		return turn, ErrNoCategory
	}
	var hold dice.Code
	for s := dice.Stage(0); s < dice.NumStages; s++ {
		thrown := p.roller.ThrowCode(hold)
		c, e, err := p.Target(s, thrown, card.Mask)
		if err != nil {
			return turn, err
		}
		hold = e.Hold
		turn.Thrown[s], turn.Target[s], turn.Hold[s] = thrown, c, hold
	}
	turn.Final = p.roller.ThrowCode(hold)
	c, err := p.selector.Select(turn.Final, card.Mask)
	if err != nil {
		return turn, err
	}
	score, err := card.Fill(c, turn.Final)
	if err != nil {
		return turn, err
	}
	turn.Category, turn.Score = c, score
	return turn, nil
}

// PlayGame plays all fifteen turns. observe, if not nil, sees every turn.
func (p *Player) PlayGame(observe func(Turn)) (*Scorecard, error) {
	card := NewScorecard()
	for !card.Done() {
		turn, err := p.PlayTurn(card)
		if err != nil {
			return nil, err
		}
		if observe != nil {
			observe(turn)
		}
	}
	return card, nil
}
