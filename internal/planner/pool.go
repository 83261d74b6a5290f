package planner

import "errors"

var ErrPoolExhausted = errors.New("node pool exhausted")

// Ref addresses a pooled node. A ref goes stale when its node is released or
// the pool is cleared.
type Ref struct {
	epoch uint32
	gen   uint32
	idx   uint32
}

// Pool is a fixed-capacity arena of nodes. Slots are handed out by a linear
// pointer first and then from a LIFO free list. Clear is O(1).
type Pool struct {
	nodes []Node
	gens  []uint32
	free  []uint32
	next  int
	epoch uint32
	inUse int
}

func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		nodes: make([]Node, capacity),
		gens:  make([]uint32, capacity),
		free:  make([]uint32, 0, capacity),
		epoch: 1,
	}
}

func (p *Pool) Cap() int   { return len(p.nodes) }
func (p *Pool) InUse() int { return p.inUse }

// Acquire returns a slot whose contents are unspecified; callers overwrite it.
func (p *Pool) Acquire() (Ref, *Node, error) {
	var idx uint32
	switch {
	case p.next < len(p.nodes):
		idx = uint32(p.next)
		p.next++
	case len(p.free) > 0:
		idx = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	default:
		return Ref{}, nil, ErrPoolExhausted
	}
	p.inUse++
	return Ref{epoch: p.epoch, gen: p.gens[idx], idx: idx}, &p.nodes[idx], nil
}

// Get resolves r, or nil if r is stale.
func (p *Pool) Get(r Ref) *Node {
	if !p.valid(r) {
		return nil
	}
	return &p.nodes[r.idx]
}

// Release returns r's slot to the free list. Stale refs are ignored.
func (p *Pool) Release(r Ref) {
	if !p.valid(r) {
		return
	}
	p.gens[r.idx]++
	p.free = append(p.free, r.idx)
	p.inUse--
}

// Clear invalidates every outstanding ref.
func (p *Pool) Clear() {
	p.epoch++
	p.next = 0
	p.free = p.free[:0]
	p.inUse = 0
}

func (p *Pool) valid(r Ref) bool {
	return r.epoch == p.epoch && int(r.idx) < len(p.nodes) && p.gens[r.idx] == r.gen
}
