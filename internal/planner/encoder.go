package planner

import (
	"fmt"

	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
)

// Bindings maps catalog slots to the external ids offered this turn, plus the
// positional brew bonuses visible in the offered prices.
type Bindings struct {
	cast  [catalogs.MaxSlots]int32
	learn [catalogs.MaxSlots]int32
	brew  [catalogs.MaxSlots]int32
	bonus [catalogs.MaxSlots]int8
	rank  [catalogs.MaxSlots]int8
}

func newBindings() Bindings {
	var b Bindings
	for i := range b.cast {
		b.cast[i], b.learn[i], b.brew[i], b.rank[i] = -1, -1, -1, -1
	}
	return b
}

// Bonus returns the positional bonus rank and amount of a brew slot, rank -1 if none.
func (b *Bindings) Bonus(slot int) (rank, amount int) {
	return int(b.rank[slot]), int(b.bonus[slot])
}

// Action converts a planned command into an output action. It fails for
// commands that name something not offered this turn.
func (b *Bindings) Action(c Command) (protocol.Action, bool) {
	switch c.Op {
	case OpCast:
		id := b.cast[c.Slot]
		if id < 0 {
			return protocol.Action{}, false
		}
		a := protocol.Action{Op: protocol.OpCast, ID: int(id)}
		if c.Times > 1 {
			a.Times = int(c.Times)
		}
		return a, true
	case OpLearn:
		if id := b.learn[c.Slot]; id >= 0 {
			return protocol.Action{Op: protocol.OpLearn, ID: int(id)}, true
		}
		return protocol.Action{}, false
	case OpBrew:
		if id := b.brew[c.Slot]; id >= 0 {
			return protocol.Action{Op: protocol.OpBrew, ID: int(id)}, true
		}
		return protocol.Action{}, false
	case OpRest:
		return protocol.Rest(), true
	default:
		return protocol.Wait(), true
	}
}

// Encode builds the root node for one side of the snapshot. Every offered
// delta must match a catalog entry; a mismatch wraps catalogs.ErrUnknownDelta.
func Encode(cats *catalogs.Catalogs, snap protocol.TurnSnapshot, side Strategy) (Node, Bindings, error) {
	var root Node
	bind := newBindings()

	castKind := protocol.KindCast
	inv := snap.Self
	if side == Opponent {
		castKind = protocol.KindOpponentCast
		inv = snap.Opponent
	}
	root.Inv = Tier(inv.Tiers)

	ranked := 0
	for _, o := range snap.Offers {
		d := catalogs.Delta(o.Delta)
		switch o.Kind {
		case castKind:
			slot, err := cats.Transforms.Lookup(d)
			if err != nil {
				return root, bind, fmt.Errorf("offer %d: %w", o.ID, err)
			}
			root.Slots[slot].SetCast(o.Castable, true)
			bind.cast[slot] = int32(o.ID)

		case protocol.KindLearn:
			slot, err := cats.Learnables.Lookup(d)
			if err != nil {
				return root, bind, fmt.Errorf("offer %d: %w", o.ID, err)
			}
			root.Slots[slot].SetLearn(o.TomeIndex, o.Tax)
			bind.learn[slot] = int32(o.ID)

		case protocol.KindBrew:
			slot, err := cats.Brews.Lookup(d)
			if err != nil {
				return root, bind, fmt.Errorf("offer %d: %w", o.ID, err)
			}
			root.Slots[slot].SetBrewAvailable(true)
			bind.brew[slot] = int32(o.ID)
			if extra := o.Price - cats.Brews.Defs[slot].Price; extra > 0 && ranked < len(root.RankUsed) {
				bind.rank[slot] = int8(ranked)
				bind.bonus[slot] = int8(extra)
				ranked++
			}
		}
	}
	return root, bind, nil
}
