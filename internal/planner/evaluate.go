package planner

import (
	"math"

	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

// Strategy selects how a search scores its nodes.
type Strategy uint8

const (
	// Primary plans our own moves and discounts recipes the opponent is
	// expected to brew first.
	Primary Strategy = iota
	// Opponent estimates how soon the opponent can brew each recipe.
	Opponent
)

func (s Strategy) String() string {
	if s == Opponent {
		return "opponent"
	}
	return "primary"
}

// Unreachable marks a recipe the opponent cannot brew within its horizon.
const Unreachable = math.MaxUint8

// BrewClock is the earliest ply at which the opponent can brew each recipe slot.
type BrewClock [catalogs.MaxSlots]uint8

func NewBrewClock() BrewClock {
	var c BrewClock
	for i := range c {
		c[i] = Unreachable
	}
	return c
}

func (c *BrewClock) record(slot, ply int) {
	if ply < int(c[slot]) {
		c[slot] = uint8(ply)
	}
}

// Move is the scoring view of a generated child.
type Move struct {
	Op   Op
	Slot int
	// Gain is the price plus any positional bonus of a brew.
	Gain int
}

type Evaluator struct {
	p          tuning.Eval
	decay      []float64
	learnScale float64
	clock      *BrewClock
}

func NewEvaluator(p tuning.Eval, horizon int) *Evaluator {
	e := &Evaluator{p: p, decay: make([]float64, horizon+1), learnScale: 1}
	for d := range e.decay {
		e.decay[d] = math.Exp(-float64(d) / (p.DecayScale * float64(horizon)))
	}
	return e
}

// Prepare sets the per-turn inputs: the game turn for learn decay and the
// opponent clock used to discount contested recipes.
func (e *Evaluator) Prepare(gameTurn int, clock *BrewClock) {
	e.clock = clock
	e.learnScale = 1
	if e.p.LearnDecayTurns > 0 {
		e.learnScale = math.Max(e.p.LearnFloor, 1-float64(gameTurn)/float64(e.p.LearnDecayTurns))
	}
}

func (e *Evaluator) Decay(ply int) float64 { return e.decay[ply] }

// Score returns the child's score for a move made at ply.
func (e *Evaluator) Score(s Strategy, parent float64, m Move, ply int) float64 {
	var reward float64
	switch m.Op {
	case OpBrew:
		reward = float64(m.Gain) * e.p.BrewWeight
		// Both players may brew the same recipe on the same turn.
		if s == Primary && e.clock != nil && int(e.clock[m.Slot]) < ply {
			reward *= e.p.ContestedFactor
		}
	case OpCast:
		reward = e.p.CastReward
	case OpLearn:
		reward = e.p.LearnReward * e.learnScale
	}
	return parent + reward*e.decay[ply]
}

// Completion is the credit for a node that has reached the brew quota.
func (e *Evaluator) Completion(n *Node) float64 {
	return float64(int(n.Price)+n.Inv.Value())*e.p.CompletionWeight + e.p.CompletionBonus
}
