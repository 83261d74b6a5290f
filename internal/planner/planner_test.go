package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

func testTuning(horizon, width int) tuning.Tuning {
	tu := tuning.Defaults()
	tu.Search.Horizon = horizon
	tu.Search.Width = width
	tu.Search.PoolCapacity = 1 << 15
	tu.Search.OpponentPoolCapacity = 1 << 11
	tu.Search.BudgetMs = 2000
	tu.Search.OpponentBudgetMs = 50
	return tu
}

func newTestPlanner(cats *catalogs.Catalogs, tu tuning.Tuning) *Planner {
	return New(cats, tu, NewStepClock(time.Millisecond))
}

func defaultCatalogs(t testing.TB) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.LoadDefault()
	require.NoError(t, err)
	return c
}

func offer(id int, kind string, d [4]int8, price int) protocol.Offer {
	return protocol.Offer{ID: id, Kind: kind, Delta: d, Price: price, TomeIndex: -1, Tax: -1, Castable: true}
}

// baseCasts are the four starting transforms with the usual ids.
func baseCasts(kind string, firstID int) []protocol.Offer {
	return []protocol.Offer{
		offer(firstID, kind, [4]int8{2, 0, 0, 0}, 0),
		offer(firstID+1, kind, [4]int8{-1, 1, 0, 0}, 0),
		offer(firstID+2, kind, [4]int8{0, -1, 1, 0}, 0),
		offer(firstID+3, kind, [4]int8{0, 0, -1, 1}, 0),
	}
}

func openingSnapshot() protocol.TurnSnapshot {
	offers := []protocol.Offer{
		offer(42, protocol.KindBrew, [4]int8{-2, -2, 0, 0}, 9),
		offer(50, protocol.KindBrew, [4]int8{-2, 0, 0, -2}, 11),
		offer(61, protocol.KindBrew, [4]int8{0, 0, 0, -4}, 16),
		offer(53, protocol.KindBrew, [4]int8{0, 0, -4, 0}, 12),
		offer(73, protocol.KindBrew, [4]int8{-1, -1, -1, -1}, 12),
	}
	for i, d := range [][4]int8{{2, 2, 0, -1}, {-3, 0, 0, 1}, {0, 2, 0, 0}, {1, 1, 0, 0}, {0, 0, 1, 0}, {3, 0, 0, 0}} {
		o := offer(10+i, protocol.KindLearn, d, 0)
		o.TomeIndex, o.Tax = i, 0
		offers = append(offers, o)
	}
	offers = append(offers, baseCasts(protocol.KindCast, 78)...)
	offers = append(offers, baseCasts(protocol.KindOpponentCast, 82)...)
	return protocol.TurnSnapshot{
		Offers:   offers,
		Self:     protocol.Inventory{Tiers: [4]int8{3, 0, 0, 0}},
		Opponent: protocol.Inventory{Tiers: [4]int8{3, 0, 0, 0}},
	}
}

func TestThinkTransformThenBrew(t *testing.T) {
	cats, err := catalogs.New(nil,
		[]catalogs.Def{{ID: "B0", Delta: catalogs.Delta{2, 0, 0, 0}}},
		[]catalogs.Def{{ID: "P0", Delta: catalogs.Delta{-2, 0, 0, 0}, Price: 10}})
	require.NoError(t, err)

	snap := protocol.TurnSnapshot{Offers: []protocol.Offer{
		offer(78, protocol.KindCast, [4]int8{2, 0, 0, 0}, 0),
		offer(50, protocol.KindBrew, [4]int8{-2, 0, 0, 0}, 10),
	}}
	p := newTestPlanner(cats, testTuning(3, 2))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap})
	require.NoError(t, err)

	assert.Equal(t, "CAST 78", res.Action.Command())
	assert.Equal(t, []Command{
		{Op: OpCast, Slot: 0, Times: 1},
		{Op: OpBrew, Slot: 0},
		{Op: OpRest},
	}, res.Plan)
	assert.Equal(t, 10, res.Price)
	assert.Equal(t, Tier{}, res.Final)
	assert.False(t, res.FellBack)
}

func TestThinkBrewsImmediatelyWhenAffordable(t *testing.T) {
	snap := openingSnapshot()
	snap.Self.Tiers = [4]int8{2, 2, 0, 0}

	p := newTestPlanner(defaultCatalogs(t), testTuning(20, 3))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap})
	require.NoError(t, err)

	assert.Equal(t, "BREW 42", res.Action.Command())
	assert.Equal(t, OpBrew, res.Command.Op)
	assert.GreaterOrEqual(t, res.Price, 9, "first-rank bonus is collected")
}

func TestThinkLearnsRatherThanRests(t *testing.T) {
	cats, err := catalogs.New(
		[]catalogs.Def{{ID: "L0", Delta: catalogs.Delta{0, 2, 0, 0}}},
		[]catalogs.Def{{ID: "B0", Delta: catalogs.Delta{2, 0, 0, 0}}},
		[]catalogs.Def{{ID: "P0", Delta: catalogs.Delta{0, -2, 0, 0}, Price: 10}})
	require.NoError(t, err)

	cooling := offer(78, protocol.KindCast, [4]int8{2, 0, 0, 0}, 0)
	cooling.Castable = false
	learn := offer(5, protocol.KindLearn, [4]int8{0, 2, 0, 0}, 0)
	learn.TomeIndex, learn.Tax = 0, 0
	snap := protocol.TurnSnapshot{Offers: []protocol.Offer{
		cooling,
		learn,
		offer(60, protocol.KindBrew, [4]int8{0, -2, 0, 0}, 10),
	}}

	p := newTestPlanner(cats, testTuning(3, 2))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap})
	require.NoError(t, err)

	assert.Equal(t, "LEARN 5", res.Action.Command())
	assert.Equal(t, []Command{
		{Op: OpLearn, Slot: 0},
		{Op: OpCast, Slot: 0, Times: 1},
		{Op: OpBrew, Slot: 0},
	}, res.Plan)
}

func TestThinkRestsWhenNothingElseApplies(t *testing.T) {
	p := newTestPlanner(defaultCatalogs(t), testTuning(4, 2))
	res, err := p.Think(context.Background(), Turn{})
	require.NoError(t, err)
	assert.Equal(t, "REST", res.Action.Command())
	assert.False(t, res.FellBack, "rest chains still reach the horizon")
}

func TestThinkFallsBackWithoutBudget(t *testing.T) {
	tu := testTuning(20, 3)
	tu.Search.BudgetMs = 0
	tu.Search.OpponentBudgetMs = 0

	p := newTestPlanner(defaultCatalogs(t), tu)
	res, err := p.Think(context.Background(), Turn{Snapshot: openingSnapshot()})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, "REST", res.Action.Command())
	assert.Equal(t, 0, res.Expansions)
	assert.Equal(t, NewBrewClock(), res.OpponentClock)
}

func TestThinkStopsWhenPoolExhausted(t *testing.T) {
	tu := testTuning(20, 3)
	tu.Search.PoolCapacity = 64

	p := newTestPlanner(defaultCatalogs(t), tu)
	res, err := p.Think(context.Background(), Turn{Snapshot: openingSnapshot()})
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	_, perr := protocol.ParseAction(res.Action.String())
	assert.NoError(t, perr, "a valid action is still emitted")
}

func TestThinkUnknownDelta(t *testing.T) {
	snap := openingSnapshot()
	snap.Offers = append(snap.Offers, offer(99, protocol.KindBrew, [4]int8{-9, 0, 0, 0}, 30))

	p := newTestPlanner(defaultCatalogs(t), testTuning(20, 3))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap})
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalogs.ErrUnknownDelta))
	assert.Equal(t, "WAIT", res.Action.Command())
}

func TestThinkIsAnytime(t *testing.T) {
	cats := defaultCatalogs(t)
	last := -1.0
	for _, budget := range []int{40, 80, 160, 320, 640, 1280} {
		tu := testTuning(8, 3)
		tu.Search.BudgetMs = budget
		res, err := newTestPlanner(cats, tu).Think(context.Background(), Turn{Snapshot: openingSnapshot()})
		require.NoError(t, err)
		if res.FellBack {
			continue
		}
		assert.GreaterOrEqual(t, res.Score, last, "budget %d", budget)
		last = res.Score
	}
	assert.Greater(t, last, 0.0)
}

func TestThinkIsDeterministic(t *testing.T) {
	cats := defaultCatalogs(t)
	run := func() Result {
		res, err := newTestPlanner(cats, testTuning(20, 3)).Think(context.Background(), Turn{Snapshot: openingSnapshot(), GameTurn: 4})
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Action, b.Action)
	assert.Equal(t, a.Plan, b.Plan)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Expansions, b.Expansions)
	assert.Equal(t, a.OpponentClock, b.OpponentClock)
}

func TestThinkKeepsNodesFeasible(t *testing.T) {
	p := newTestPlanner(defaultCatalogs(t), testTuning(10, 3))
	_, err := p.Think(context.Background(), Turn{Snapshot: openingSnapshot()})
	require.NoError(t, err)

	s := p.primary
	check := func(q queue) {
		for _, e := range q {
			n := s.pool.Get(e.ref)
			require.NotNil(t, n)
			for i := 0; i < 4; i++ {
				require.GreaterOrEqual(t, n.Inv[i], int8(0), "plan %v", n.Commands())
			}
			require.LessOrEqual(t, n.Inv.Sum(), s.rules.Capacity)
		}
	}
	for d := 0; d <= s.horizon(); d++ {
		check(s.frontier.levels[d])
	}
	check(s.frontier.finished)
}

func TestThinkFinishesAtQuota(t *testing.T) {
	cats, err := catalogs.New(nil,
		[]catalogs.Def{{ID: "B0", Delta: catalogs.Delta{2, 0, 0, 0}}},
		[]catalogs.Def{{ID: "P0", Delta: catalogs.Delta{-2, 0, 0, 0}, Price: 10}})
	require.NoError(t, err)
	snap := protocol.TurnSnapshot{
		Offers: []protocol.Offer{
			offer(78, protocol.KindCast, [4]int8{2, 0, 0, 0}, 0),
			offer(50, protocol.KindBrew, [4]int8{-2, 0, 0, 0}, 10),
		},
		Self: protocol.Inventory{Tiers: [4]int8{2, 0, 0, 0}},
	}

	p := newTestPlanner(cats, testTuning(5, 2))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap, Brews: 5})
	require.NoError(t, err)
	assert.Equal(t, "BREW 50", res.Action.Command())
	assert.Len(t, res.Plan, 1, "the sixth brew ends the plan")
	assert.Greater(t, res.Score, tuning.Defaults().Eval.CompletionBonus)
}

func TestThinkSeedsPreviousPlan(t *testing.T) {
	cats := defaultCatalogs(t)
	p := newTestPlanner(cats, testTuning(20, 3))
	first, err := p.Think(context.Background(), Turn{Snapshot: openingSnapshot()})
	require.NoError(t, err)
	require.Greater(t, len(first.Plan), 1)
	assert.Equal(t, first.Plan, p.prev)

	p.Reset()
	assert.Nil(t, p.prev)
}

func TestRestoredPlanSeedsFrontier(t *testing.T) {
	cats := defaultCatalogs(t)
	b0, err := cats.Transforms.Lookup(catalogs.Delta{2, 0, 0, 0})
	require.NoError(t, err)
	b1, err := cats.Transforms.Lookup(catalogs.Delta{-1, 1, 0, 0})
	require.NoError(t, err)
	cast := func(slot int) Command { return Command{Op: OpCast, Slot: uint8(slot), Times: 1} }

	tu := testTuning(20, 3)
	tu.Search.BudgetMs = 0
	p := newTestPlanner(cats, tu)
	// The first command was played last turn. The second cast of b0 is still
	// on cooldown, so replay stops there and the trailing rest is never queued.
	p.Restore([]Command{Rest(), cast(b0), cast(b1), cast(b0), Rest()})

	res, err := p.Think(context.Background(), Turn{Snapshot: openingSnapshot()})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Zero(t, res.Expansions)

	f := p.primary.frontier
	for d, want := range []int{1, 1, 1, 0, 0} {
		assert.Equal(t, want, f.Len(d), "depth %d", d)
	}
	ref, _, ok := f.Best(2)
	require.True(t, ok)
	n := p.primary.pool.Get(ref)
	require.NotNil(t, n)
	assert.Equal(t, []Command{cast(b0), cast(b1)}, n.Commands())
	assert.Equal(t, Tier{4, 1, 0, 0}, n.Inv)
}

func TestRestoredPlanIsCopied(t *testing.T) {
	p := newTestPlanner(defaultCatalogs(t), testTuning(4, 2))
	plan := []Command{Rest(), Rest()}
	p.Restore(plan)
	plan[0] = Command{Op: OpBrew}
	assert.Equal(t, []Command{Rest(), Rest()}, p.Carry())

	p.Restore(nil)
	assert.Empty(t, p.Carry())
}

func TestSurveyFindsOpponentBrews(t *testing.T) {
	snap := openingSnapshot()
	snap.Opponent.Tiers = [4]int8{2, 2, 0, 0}

	p := newTestPlanner(defaultCatalogs(t), testTuning(20, 3))
	res, err := p.Think(context.Background(), Turn{Snapshot: snap})
	require.NoError(t, err)

	slot, err := defaultCatalogs(t).Brews.Lookup(catalogs.Delta{-2, -2, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), res.OpponentClock[slot])
	assert.Greater(t, res.Survey.Expansions, 0)
}

func BenchmarkThink(b *testing.B) {
	cats := defaultCatalogs(b)
	tu := tuning.Defaults()
	tu.Search.BudgetMs = 2000
	p := New(cats, tu, NewStepClock(time.Millisecond))
	snap := openingSnapshot()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Reset()
		if _, err := p.Think(context.Background(), Turn{Snapshot: snap}); err != nil {
			b.Fatal(err)
		}
	}
}
