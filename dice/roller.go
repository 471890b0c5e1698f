package dice

import (
	"fmt"
	"slices"

	"lukechampine.com/frand"
)

// Stage is a throw stage that is followed by a hold decision.
type Stage uint8

const (
	First Stage = iota
	Second
)

// NumStages is the number of throw stages that carry a hold decision. The
// third and final throw is scored directly.
const NumStages = 2

func (s Stage) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Source is the randomness a Roller draws from. *frand.RNG and
// *math/rand.Rand both satisfy it.
type Source interface {
	Intn(n int) int
}

// A Roller throws dice for one worker. It is not safe for concurrent use;
// every goroutine owns its own.
type Roller struct {
	rng   Source
	index [NumDice]int
}

// NewRoller creates a roller. A nil source gets a fresh frand generator.
func NewRoller(rng Source) *Roller {
	if rng == nil {
		rng = frand.New()
	}
	return &Roller{rng: rng}
}

func (r *Roller) Source() Source {
	return r.rng
}

// Throw keeps the held dice and rerolls the rest. The returned five dice
// are sorted ascending.
func (r *Roller) Throw(hold []uint8) []uint8 {
	res := make([]uint8, 0, NumDice)
	res = append(res, hold...)
	if len(res) >= NumDice {
		res = res[:NumDice]
	}
	for len(res) < NumDice {
		res = append(res, uint8(r.rng.Intn(NumFaces))+1)
	}
	slices.Sort(res)
	return res
}

// ThrowCode is Throw with encoded arguments.
func (r *Roller) ThrowCode(hold Code) Code {
	return Encode(r.Throw(Decode(hold)))
}

// RandomHold picks a hold of uniformly random size 0..5 and a uniformly
// random subset of that size from the given dice. The hold is sorted.
func (r *Roller) RandomHold(dice []uint8) []uint8 {
	n := r.rng.Intn(NumDice + 1)
	if n > len(dice) {
		n = len(dice)
	}
	for i := range dice {
		r.index[i] = i
	}
	hold := make([]uint8, n)
	// partial Fisher-Yates over positions
	for i := 0; i < n; i++ {
		j := i + r.rng.Intn(len(dice)-i)
		r.index[i], r.index[j] = r.index[j], r.index[i]
		hold[i] = dice[r.index[i]]
	}
	slices.Sort(hold)
	return hold
}
