package planner

import (
	"fmt"

	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

type Op uint8

const (
	OpWait Op = iota
	OpCast
	OpLearn
	OpBrew
	OpRest
)

func (o Op) String() string {
	switch o {
	case OpCast:
		return "cast"
	case OpLearn:
		return "learn"
	case OpBrew:
		return "brew"
	case OpRest:
		return "rest"
	default:
		return "wait"
	}
}

// Command is one planned step addressed by catalog slot. Times > 1 only for
// repeated casts.
type Command struct {
	Op    Op
	Slot  uint8
	Times uint8
}

func Rest() Command { return Command{Op: OpRest} }

// step is a Command packed for storage in a node: op in bits 0-2, slot in
// bits 3-8, times in bits 9-15.
type step uint16

func packStep(c Command) step {
	return step(c.Op)&0x7 | step(c.Slot)&0x3F<<3 | step(c.Times)<<9
}

func (s step) command() Command {
	return Command{Op: Op(s & 0x7), Slot: uint8(s >> 3 & 0x3F), Times: uint8(s >> 9)}
}

func (c Command) String() string {
	switch c.Op {
	case OpCast:
		if c.Times > 1 {
			return fmt.Sprintf("cast:%dx%d", c.Slot, c.Times)
		}
		return fmt.Sprintf("cast:%d", c.Slot)
	case OpLearn, OpBrew:
		return fmt.Sprintf("%s:%d", c.Op, c.Slot)
	default:
		return c.Op.String()
	}
}

// Node is one hypothetical future. Nodes are plain values; branching copies
// the parent wholesale so siblings never share state.
type Node struct {
	Inv   Tier
	Slots [catalogs.MaxSlots]SlotStatus
	Plan  [tuning.MaxHorizon]step
	Depth uint8
	Brews uint8
	// RankUsed counts positional brew bonuses collected along this plan.
	RankUsed [2]uint8
	Price    int32
	Score    float64
}

// Commands returns the recorded plan.
func (n *Node) Commands() []Command {
	out := make([]Command, n.Depth)
	for i := range out {
		out[i] = n.Plan[i].command()
	}
	return out
}

func (n *Node) first() Command {
	if n.Depth == 0 {
		return Rest()
	}
	return n.Plan[0].command()
}
