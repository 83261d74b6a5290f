package planner

import (
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

// search is one staged beam search instance with its own pool and frontier.
type search struct {
	cats     *catalogs.Catalogs
	rules    tuning.Rules
	eval     *Evaluator
	strategy Strategy
	pool     *Pool
	frontier *Frontier
	width    int
	slots    int

	bind       *Bindings
	rankBudget [2]int
	priorBrews int
	// clock is filled in by opponent searches only.
	clock *BrewClock

	expansions int
	rounds     int
	exhausted  bool
}

func newSearch(cats *catalogs.Catalogs, tune tuning.Tuning, strategy Strategy, horizon, width, capacity int) *search {
	s := &search{
		cats:     cats,
		rules:    tune.Rules,
		eval:     NewEvaluator(tune.Eval, horizon),
		strategy: strategy,
		pool:     NewPool(capacity),
		frontier: NewFrontier(horizon),
		width:    width,
		slots:    cats.Slots(),
	}
	for r := range s.rankBudget {
		if r < len(tune.Eval.RankBudget) {
			s.rankBudget[r] = tune.Eval.RankBudget[r]
		}
	}
	return s
}

func (s *search) horizon() int { return s.frontier.Horizon() }

func (s *search) canCast(n *Node, slot, times int) bool {
	if !n.Slots[slot].Castable() {
		return false
	}
	def := &s.cats.Transforms.Defs[slot]
	if times > 1 && !def.Repeatable {
		return false
	}
	return n.Inv.AcceptsTimes(Tier(def.Delta), times, s.rules.Capacity)
}

func (s *search) canLearn(n *Node, slot int) bool {
	st := n.Slots[slot]
	return st.LearnAvailable() && int(n.Inv[0]) >= st.TomeIndex()
}

func (s *search) canBrew(n *Node, slot int) bool {
	return n.Slots[slot].BrewAvailable() &&
		n.Inv.Accepts(Tier(s.cats.Brews.Defs[slot].Delta), s.rules.Capacity)
}

func (s *search) can(n *Node, c Command) bool {
	slot := int(c.Slot)
	switch c.Op {
	case OpCast:
		return slot < s.cats.Transforms.Len() && s.canCast(n, slot, int(max(c.Times, 1)))
	case OpLearn:
		return slot < s.cats.Learnables.Len() && s.canLearn(n, slot)
	case OpBrew:
		return slot < s.cats.Brews.Len() && s.canBrew(n, slot)
	case OpRest:
		return true
	}
	return false
}

// apply mutates n by c, which must satisfy can. It returns the gain of a brew.
func (s *search) apply(n *Node, c Command) int {
	slot := int(c.Slot)
	switch c.Op {
	case OpCast:
		d := Tier(s.cats.Transforms.Defs[slot].Delta)
		n.Inv = n.Inv.Add(d.scaled(int(max(c.Times, 1))))
		n.Slots[slot].SetCastable(false)

	case OpLearn:
		st := n.Slots[slot]
		index, tax := st.TomeIndex(), st.Tax()
		n.Slots[slot] &^= learnAvailableBit | nibble<<taxShift | nibble<<tomeShift
		n.Slots[slot].SetCast(true, true)
		for i := 0; i < s.slots; i++ {
			m := &n.Slots[i]
			if !m.LearnAvailable() {
				continue
			}
			if m.TomeIndex() > index {
				m.SetTomeIndex(m.TomeIndex() - 1)
			} else {
				m.SetTax(m.Tax() + 1)
			}
		}
		n.Inv[0] += int8(min(s.rules.Capacity-n.Inv.Sum(), tax-index))

	case OpBrew:
		n.Inv = n.Inv.Add(Tier(s.cats.Brews.Defs[slot].Delta))
		n.Slots[slot].SetBrewAvailable(false)
		gain := s.cats.Brews.Defs[slot].Price
		if r, bonus := s.bind.Bonus(slot); r >= 0 && int(n.RankUsed[r]) < s.rankBudget[r] {
			gain += bonus
			n.RankUsed[r]++
		}
		n.Price += int32(gain)
		n.Brews++
		return gain

	case OpRest:
		for i := 0; i < s.slots; i++ {
			if n.Slots[i].CastAvailable() {
				n.Slots[i].SetCastable(true)
			}
		}
	}
	return 0
}

// child copies parent, applies c as the move at ply and queues the result.
// Children that reach the brew quota go to the finished queue instead.
func (s *search) child(parent *Node, c Command, ply int) (*Node, bool, error) {
	ref, n, err := s.pool.Acquire()
	if err != nil {
		s.exhausted = true
		return nil, false, err
	}
	*n = *parent
	gain := s.apply(n, c)
	n.Plan[ply] = packStep(c)
	n.Depth = uint8(ply + 1)
	n.Score = s.eval.Score(s.strategy, parent.Score, Move{Op: c.Op, Slot: int(c.Slot), Gain: gain}, ply)

	if c.Op == OpBrew {
		if s.clock != nil {
			s.clock.record(int(c.Slot), ply)
		}
		if s.priorBrews+int(n.Brews) >= s.rules.BrewQuota {
			n.Score += s.eval.Completion(n)
			s.frontier.Finish(n.Score, ref)
			return n, true, nil
		}
	}
	s.frontier.Push(ply+1, n.Score, ref)
	return n, false, nil
}

// expand generates every legal child of parent at ply.
func (s *search) expand(parent *Node, ply int) error {
	s.expansions++
	for i := 0; i < s.slots; i++ {
		if err := s.genBrew(parent, i, ply); err != nil {
			return err
		}
		if err := s.genLearn(parent, i, ply); err != nil {
			return err
		}
		if err := s.genCast(parent, i, ply); err != nil {
			return err
		}
	}
	_, _, err := s.child(parent, Rest(), ply)
	return err
}

func (s *search) genBrew(parent *Node, slot, ply int) error {
	if slot >= s.cats.Brews.Len() || !s.canBrew(parent, slot) {
		return nil
	}
	_, _, err := s.child(parent, Command{Op: OpBrew, Slot: uint8(slot)}, ply)
	return err
}

func (s *search) genLearn(parent *Node, slot, ply int) error {
	if slot >= s.cats.Learnables.Len() || !s.canLearn(parent, slot) {
		return nil
	}
	_, _, err := s.child(parent, Command{Op: OpLearn, Slot: uint8(slot)}, ply)
	return err
}

// genCast emits the single cast and, for repeatable transforms, one branch per
// repeat count up to the first count that no longer fits.
func (s *search) genCast(parent *Node, slot, ply int) error {
	if slot >= s.cats.Transforms.Len() || !s.canCast(parent, slot, 1) {
		return nil
	}
	if _, _, err := s.child(parent, Command{Op: OpCast, Slot: uint8(slot), Times: 1}, ply); err != nil {
		return err
	}
	if !s.cats.Transforms.Defs[slot].Repeatable {
		return nil
	}
	for k := 2; k <= s.rules.Capacity && s.canCast(parent, slot, k); k++ {
		if _, _, err := s.child(parent, Command{Op: OpCast, Slot: uint8(slot), Times: uint8(k)}, ply); err != nil {
			return err
		}
	}
	return nil
}
