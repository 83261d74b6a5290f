package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTurn = `5
78 CAST 2 0 0 0 0 -1 -1 1 0
79 CAST -1 1 0 0 0 -1 -1 0 0
82 OPPONENT_CAST 2 0 0 0 0 -1 -1 1 0
8 LEARN 3 -2 1 0 0 0 22 0 1
53 BREW 0 0 -4 0 15 -1 -1 0 0
3 0 0 0 0
2 1 0 0 12
`

func TestReadTurn(t *testing.T) {
	r := NewReader(strings.NewReader(sampleTurn))
	snap, err := r.ReadTurn()
	require.NoError(t, err)

	require.Len(t, snap.Offers, 5)
	assert.Equal(t, Offer{ID: 78, Kind: KindCast, Delta: [4]int8{2, 0, 0, 0}, TomeIndex: -1, Tax: -1, Castable: true}, snap.Offers[0])
	assert.False(t, snap.Offers[1].Castable)

	learn := snap.Offers[3]
	assert.Equal(t, KindLearn, learn.Kind)
	assert.Equal(t, MaxLearnTax, learn.Tax, "tax is clamped")
	assert.True(t, learn.Repeatable)

	brew := snap.Offers[4]
	assert.True(t, brew.Castable, "brews are always castable")
	assert.Equal(t, 15, brew.Price)

	assert.Equal(t, Inventory{Tiers: [4]int8{3, 0, 0, 0}}, snap.Self)
	assert.Equal(t, Inventory{Tiers: [4]int8{2, 1, 0, 0}, Score: 12}, snap.Opponent)

	assert.Len(t, snap.OffersOf(KindCast), 2)
	assert.Len(t, snap.OffersOf(KindOpponentCast), 1)

	_, err = r.ReadTurn()
	assert.ErrorIs(t, err, ErrEndOfSession)
}

func TestReadTurnTruncated(t *testing.T) {
	cut := strings.Join(strings.Split(sampleTurn, "\n")[:4], "\n")
	_, err := NewReader(strings.NewReader(cut)).ReadTurn()
	assert.ErrorIs(t, err, ErrEndOfSession)
	assert.True(t, Ends(err))
}

func TestReadTurnMalformed(t *testing.T) {
	cases := map[string]string{
		"count":          "x\n",
		"fields":         "1\n78 CAST 2 0\n",
		"kind":           "1\n78 SPELL 2 0 0 0 0 -1 -1 1 0\n",
		"number":         "1\n78 CAST 2 a 0 0 0 -1 -1 1 0\n",
		"huge count":     "9223372036854775807\n",
		"count too big":  "257\n",
		"negative count": "-1\n",
		"delta range":    "1\n78 CAST 130 0 0 0 0 -1 -1 1 0\n",
		"tier range":     "0\n3 0 0 -129 0\n0 0 0 0 0\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(in)).ReadTurn()
			assert.ErrorIs(t, err, ErrMalformed)
			assert.True(t, Ends(err))
		})
	}
}

func TestActionFormatAndParse(t *testing.T) {
	cases := []struct {
		a    Action
		want string
	}{
		{Action{Op: OpCast, ID: 78}, "CAST 78"},
		{Action{Op: OpCast, ID: 12, Times: 3}, "CAST 12 3"},
		{Action{Op: OpLearn, ID: 8}, "LEARN 8"},
		{Action{Op: OpBrew, ID: 53, Note: "loop:42 3.1ms"}, "BREW 53 loop:42 3.1ms"},
		{Rest(), "REST"},
		{Wait(), "WAIT"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.a.String())
		got, err := ParseAction(tc.want)
		require.NoError(t, err)
		assert.Equal(t, tc.a.Command(), got.Command())
		assert.Equal(t, tc.a.Note, got.Note)
	}

	for _, bad := range []string{"", "CAST", "BREW x", "JUMP 3"} {
		_, err := ParseAction(bad)
		assert.True(t, errors.Is(err, ErrMalformed), bad)
	}
}

func TestValidateTurnLog(t *testing.T) {
	snap, err := NewReader(strings.NewReader(sampleTurn)).ReadTurn()
	require.NoError(t, err)

	entry := TurnLogEntry{
		Version:   Version,
		SessionID: "s1",
		Turn:      3,
		Snapshot:  snap,
		Decision: Decision{
			Action:     "CAST 78",
			Plan:       []string{"cast:42", "rest"},
			Score:      1.5,
			Expansions: 120,
			Rounds:     9,
			ElapsedUs:  34000,
		},
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, ValidateTurnLog(raw))

	entry.Decision.Action = "CAST 78 loop:12"
	raw, _ = json.Marshal(entry)
	assert.Error(t, ValidateTurnLog(raw))

	assert.Error(t, ValidateTurnLog([]byte(`{"version":"1"}`)))
	assert.Error(t, ValidateTurnLog([]byte(`not json`)))
}
