package planner

import (
	"context"
	"time"
)

// reset prepares the search for a new turn.
func (s *search) reset(bind *Bindings, priorBrews int) {
	s.pool.Clear()
	s.frontier.Clear()
	s.bind = bind
	s.priorBrews = priorBrews
	s.expansions = 0
	s.rounds = 0
	s.exhausted = false
}

// seed queues the root and then replays chain from it, queueing every node
// along the way, until a command no longer applies.
func (s *search) seed(root Node, chain []Command) error {
	ref, n, err := s.pool.Acquire()
	if err != nil {
		s.exhausted = true
		return err
	}
	*n = root
	n.Depth = 0
	n.Score = 0
	s.frontier.Push(0, 0, ref)

	cur := root
	for ply, c := range chain {
		if ply >= s.horizon() || c.Op == OpWait || !s.can(&cur, c) {
			break
		}
		next, finished, err := s.child(&cur, c, ply)
		if err != nil {
			return err
		}
		if finished {
			break
		}
		cur = *next
	}
	return nil
}

// run expands the frontier in rounds until the deadline, the pool runs out,
// or a round finds nothing left to expand. Every depth below the horizon
// gives up to width nodes per round; the deadline is polled before each pop.
func (s *search) run(ctx context.Context, clock Clock, deadline time.Time) {
	h := s.horizon()
	for ctx.Err() == nil {
		popped := 0
		for d := 0; d < h; d++ {
			for w := 0; w < s.width; w++ {
				if !clock.Now().Before(deadline) {
					return
				}
				ref, ok := s.frontier.Pop(d)
				if !ok {
					break
				}
				popped++
				err := s.expand(s.pool.Get(ref), d)
				s.pool.Release(ref)
				if err != nil {
					return
				}
			}
		}
		s.rounds++
		if popped == 0 {
			return
		}
	}
}

// best is the higher scoring of the horizon leader and the finished leader.
func (s *search) best() (*Node, bool) {
	ref, score, ok := s.frontier.Best(s.horizon())
	if fref, fscore, fok := s.frontier.BestFinished(); fok && (!ok || fscore > score) {
		ref, ok = fref, true
	}
	if !ok {
		return nil, false
	}
	n := s.pool.Get(ref)
	return n, n != nil
}
