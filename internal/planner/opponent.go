package planner

import (
	"context"
	"time"
)

// SurveyStats reports the work done by an opponent survey.
type SurveyStats struct {
	Expansions int
	Rounds     int
	Exhausted  bool
	Elapsed    time.Duration
}

// survey runs the short opponent search and returns, per recipe, the earliest
// ply at which the opponent was seen brewing it.
func (p *Planner) survey(ctx context.Context, root Node, bind *Bindings, t Turn) (BrewClock, SurveyStats) {
	clock := NewBrewClock()
	s := p.opponent
	start := p.clock.Now()

	s.reset(bind, t.OpponentBrews)
	s.clock = &clock
	defer func() { s.clock = nil }()

	s.eval.Prepare(t.GameTurn, nil)
	if err := s.seed(root, nil); err == nil {
		s.run(ctx, p.clock, p.clock.Now().Add(p.tune.Search.OpponentBudget()))
	}
	return clock, SurveyStats{
		Expansions: s.expansions,
		Rounds:     s.rounds,
		Exhausted:  s.exhausted,
		Elapsed:    p.clock.Now().Sub(start),
	}
}
