package agent

import "cauldron.ai/internal/protocol"

// Session carries what the game does not repeat each turn: the turn counter
// and how many recipes each side has brewed.
type Session struct {
	Turn          int
	Brews         int
	OpponentBrews int

	started   bool
	selfScore int
	oppScore  int
}

// Observe updates the brew counters from a new snapshot. Scores only rise
// when a recipe is brewed, so each rise counts one brew.
func (s *Session) Observe(snap protocol.TurnSnapshot) {
	if s.started {
		if snap.Self.Score > s.selfScore {
			s.Brews++
		}
		if snap.Opponent.Score > s.oppScore {
			s.OpponentBrews++
		}
	}
	s.started = true
	s.selfScore = snap.Self.Score
	s.oppScore = snap.Opponent.Score
}
