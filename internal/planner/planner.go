// Package planner chooses one action per turn with an anytime staged beam
// search. Each turn the opponent is surveyed first under a short budget; the
// primary search then runs until its own deadline and the first command of
// its best plan is played.
package planner

import (
	"context"
	"time"

	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

// Turn is the input to one decision.
type Turn struct {
	Snapshot protocol.TurnSnapshot
	// GameTurn counts turns since the session began, starting at 0.
	GameTurn int
	// Brews and OpponentBrews count recipes already brewed this session.
	Brews         int
	OpponentBrews int
}

type Result struct {
	Action  protocol.Action
	Command Command
	Plan    []Command
	Score   float64
	Price   int
	// Final is the inventory at the end of Plan.
	Final Tier

	Expansions int
	Rounds     int
	Elapsed    time.Duration
	// Exhausted means the node pool ran out before the deadline.
	Exhausted bool
	// FellBack means no plan reached the horizon and REST was chosen.
	FellBack bool

	Survey        SurveyStats
	OpponentClock BrewClock
}

type Planner struct {
	cats  *catalogs.Catalogs
	tune  tuning.Tuning
	clock Clock

	primary  *search
	opponent *search

	prev []Command
}

func New(cats *catalogs.Catalogs, tune tuning.Tuning, clock Clock) *Planner {
	if clock == nil {
		clock = SystemClock{}
	}
	sp := tune.Search
	return &Planner{
		cats:     cats,
		tune:     tune,
		clock:    clock,
		primary:  newSearch(cats, tune, Primary, sp.Horizon, sp.Width, sp.PoolCapacity),
		opponent: newSearch(cats, tune, Opponent, sp.OpponentHorizon, sp.OpponentWidth, sp.OpponentPoolCapacity),
	}
}

// Reset forgets the plan carried over from the previous turn.
func (p *Planner) Reset() { p.prev = nil }

// Carry returns the plan the next turn will be seeded with.
func (p *Planner) Carry() []Command { return append([]Command(nil), p.prev...) }

// Restore replaces the carried plan, for resuming from a snapshot.
func (p *Planner) Restore(plan []Command) { p.prev = append([]Command(nil), plan...) }

// Think decides one turn. Catalog mismatches are returned as errors wrapping
// catalogs.ErrUnknownDelta, together with a WAIT action.
func (p *Planner) Think(ctx context.Context, t Turn) (Result, error) {
	start := p.clock.Now()
	res := Result{Action: protocol.Wait(), OpponentClock: NewBrewClock()}

	root, bind, err := Encode(p.cats, t.Snapshot, Primary)
	if err != nil {
		return res, err
	}
	oppRoot, oppBind, err := Encode(p.cats, t.Snapshot, Opponent)
	if err != nil {
		return res, err
	}

	res.OpponentClock, res.Survey = p.survey(ctx, oppRoot, &oppBind, t)

	s := p.primary
	s.reset(&bind, t.Brews)
	s.eval.Prepare(t.GameTurn, &res.OpponentClock)

	var chain []Command
	if p.tune.Search.SeedPreviousPlan && len(p.prev) > 1 {
		chain = p.prev[1:]
	}
	if err := s.seed(root, chain); err == nil {
		s.run(ctx, p.clock, p.clock.Now().Add(p.tune.Search.Budget()))
	}

	res.Expansions = s.expansions
	res.Rounds = s.rounds
	res.Exhausted = s.exhausted

	best, ok := s.best()
	if ok {
		res.Command = best.first()
		res.Action, ok = bind.Action(res.Command)
	}
	if ok {
		res.Plan = best.Commands()
		res.Score = best.Score
		res.Price = int(best.Price)
		res.Final = best.Inv
	} else {
		res.Command = Rest()
		res.Action = protocol.Rest()
		res.FellBack = true
	}
	p.prev = res.Plan
	res.Elapsed = p.clock.Now().Sub(start)
	return res, nil
}
