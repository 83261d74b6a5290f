package planner

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptsByHand(inv, d Tier, k, capacity int) bool {
	sum := 0
	for i := 0; i < 4; i++ {
		v := int(inv[i]) + k*int(d[i])
		if v < 0 {
			return false
		}
		sum += v
	}
	return sum <= capacity
}

func TestTierAcceptsRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		var inv, d Tier
		for j := 0; j < 4; j++ {
			inv[j] = int8(rng.Intn(6))
			d[j] = int8(rng.Intn(11) - 5)
		}
		k := 1 + rng.Intn(4)
		want := acceptsByHand(inv, d, k, 10)
		require.Equal(t, want, inv.AcceptsTimes(d, k, 10), "inv=%v d=%v k=%d", inv, d, k)
		if !want {
			continue
		}
		next := inv.Add(d.scaled(k))
		for j := 0; j < 4; j++ {
			require.GreaterOrEqual(t, next[j], int8(0))
		}
		require.LessOrEqual(t, next.Sum(), 10)
	}
}

func FuzzTierAccepts(f *testing.F) {
	f.Add(int8(3), int8(0), int8(0), int8(0), int8(-2), int8(1), int8(0), int8(0), 10)
	f.Add(int8(0), int8(0), int8(0), int8(0), int8(2), int8(0), int8(0), int8(0), 1)
	f.Fuzz(func(t *testing.T, a, b, c, d, w, x, y, z int8, capacity int) {
		inv := Tier{a % 11, b % 11, c % 11, d % 11}
		for i := range inv {
			if inv[i] < 0 {
				inv[i] = -inv[i]
			}
		}
		delta := Tier{w % 6, x % 6, y % 6, z % 6}
		if capacity < 0 || capacity > 100 {
			capacity = 10
		}
		ok := inv.Accepts(delta, capacity)
		if ok != acceptsByHand(inv, delta, 1, capacity) {
			t.Fatalf("Accepts(%v, %v, %d) = %v", inv, delta, capacity, ok)
		}
		if ok {
			next := inv.Add(delta)
			if next.Sum() > capacity || next[0] < 0 || next[1] < 0 || next[2] < 0 || next[3] < 0 {
				t.Fatalf("accepted %v + %v = %v", inv, delta, next)
			}
		}
	})
}

func TestTierValue(t *testing.T) {
	v := Tier{4, 1, 2, 3}
	assert.Equal(t, 10, v.Sum())
	assert.Equal(t, 6, v.Value())
}

func TestSlotStatusFields(t *testing.T) {
	var s SlotStatus
	assert.False(t, s.Castable())

	s.SetCast(true, true)
	assert.True(t, s.Castable())
	s.SetCastable(false)
	assert.False(t, s.Castable())
	assert.True(t, s.CastAvailable())

	s.SetLearn(5, 3)
	assert.True(t, s.LearnAvailable())
	assert.Equal(t, 5, s.TomeIndex())
	assert.Equal(t, 3, s.Tax())

	s.SetTax(40)
	assert.Equal(t, MaxNibble, s.Tax(), "tax clamps")
	assert.Equal(t, 5, s.TomeIndex(), "tome index untouched")

	s.SetBrewAvailable(true)
	assert.True(t, s.BrewAvailable())
	assert.True(t, s.CastAvailable(), "fields are independent")
	assert.Equal(t, SlotStatus(0x5F45), s)
}

func TestStepPacking(t *testing.T) {
	for _, c := range []Command{
		Rest(),
		{Op: OpWait},
		{Op: OpCast, Slot: 45, Times: 1},
		{Op: OpCast, Slot: 0, Times: 10},
		{Op: OpLearn, Slot: 41},
		{Op: OpBrew, Slot: 35},
	} {
		assert.Equal(t, c, packStep(c).command(), c.String())
	}
}

func TestNodeStaysCompact(t *testing.T) {
	assert.LessOrEqual(t, unsafe.Sizeof(Node{}), uintptr(184))
}

func TestPoolReuseAndClear(t *testing.T) {
	p := NewPool(3)
	var refs []Ref
	for i := 0; i < 3; i++ {
		r, n, err := p.Acquire()
		require.NoError(t, err)
		n.Price = int32(i)
		refs = append(refs, r)
	}
	_, _, err := p.Acquire()
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 3, p.InUse())

	p.Release(refs[0])
	p.Release(refs[2])
	assert.Nil(t, p.Get(refs[2]), "released ref is stale")
	p.Release(refs[2])
	assert.Equal(t, 1, p.InUse(), "double release ignored")

	r, _, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, refs[2].idx, r.idx, "free list is LIFO")

	p.Clear()
	assert.Equal(t, 0, p.InUse())
	assert.Nil(t, p.Get(refs[1]))
	assert.Nil(t, p.Get(r))

	for i := 0; i < 3; i++ {
		_, _, err := p.Acquire()
		require.NoError(t, err, "full capacity available after clear")
	}
}

func TestFrontierOrder(t *testing.T) {
	f := NewFrontier(2)
	assert.Equal(t, 2, f.Horizon())
	for i, s := range []float64{3, 9, 1, 7} {
		f.Push(1, s, Ref{idx: uint32(i)})
	}
	_, best, ok := f.Best(1)
	require.True(t, ok)
	assert.Equal(t, 9.0, best)

	var got []uint32
	for {
		r, ok := f.Pop(1)
		if !ok {
			break
		}
		got = append(got, r.idx)
	}
	assert.Equal(t, []uint32{1, 3, 0, 2}, got)

	f.Push(0, 1, Ref{})
	f.Finish(5, Ref{idx: 8})
	f.Clear()
	assert.Equal(t, 0, f.Len(0))
	assert.Equal(t, 0, f.Finished())
	_, _, ok = f.BestFinished()
	assert.False(t, ok)
}
