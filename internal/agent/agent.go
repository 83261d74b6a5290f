// Package agent runs one game session: it reads turns, asks the planner for
// a decision, writes the action line and records the turn.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"cauldron.ai/internal/observerproto"
	"cauldron.ai/internal/persistence/snapshot"
	"cauldron.ai/internal/planner"
	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

// TurnWriter receives every decided turn (turn log, index).
type TurnWriter interface {
	WriteTurn(protocol.TurnLogEntry) error
}

// Publisher receives every decided turn without blocking (observer).
type Publisher interface {
	Publish(protocol.TurnLogEntry)
}

// SnapshotIndex records where a turn snapshot was written.
type SnapshotIndex interface {
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

type Config struct {
	SessionID string
	Catalogs  *catalogs.Catalogs
	Tuning    tuning.Tuning
	// Clock defaults to the system clock.
	Clock  planner.Clock
	Logger zerolog.Logger

	Writers   []TurnWriter
	Publisher Publisher

	// SnapshotDir enables one snapshot file per turn.
	SnapshotDir   string
	SnapshotIndex SnapshotIndex
}

type Agent struct {
	cfg     Config
	log     zerolog.Logger
	planner *planner.Planner

	mu      sync.Mutex
	session Session
}

func New(cfg Config) *Agent {
	return &Agent{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("session", cfg.SessionID).Logger(),
		planner: planner.New(cfg.Catalogs, cfg.Tuning, cfg.Clock),
	}
}

// Session returns a copy of the session counters.
func (a *Agent) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Status is the observer bootstrap view of the session.
func (a *Agent) Status() observerproto.BootstrapResponse {
	s := a.Session()
	return observerproto.BootstrapResponse{
		SessionID:     a.cfg.SessionID,
		CatalogDigest: a.cfg.Catalogs.Digest(),
		TuningDigest:  a.cfg.Tuning.Digest(),
		Turn:          s.Turn,
		Brews:         s.Brews,
		OpponentBrews: s.OpponentBrews,
	}
}

// Run plays turns from in until the input ends. Every turn writes exactly one
// action line to out. A clean end of input returns nil; an unknown delta
// returns its error after the WAIT line has been written.
func (a *Agent) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	r := protocol.NewReader(in)
	w := bufio.NewWriter(out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := r.ReadTurn()
		if err != nil {
			if protocol.Ends(err) {
				s := a.Session()
				a.log.Info().Err(err).Int("turns", s.Turn).Int("brews", s.Brews).Int("opponent_brews", s.OpponentBrews).Msg("session-ended")
				return nil
			}
			return err
		}

		action, terr := a.Turn(ctx, snap)
		if _, err := fmt.Fprintln(w, action.String()); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if errors.Is(terr, catalogs.ErrUnknownDelta) {
			return terr
		}
	}
}

// Turn decides one snapshot and records it. The returned action is always
// valid to emit, even when err is non-nil.
func (a *Agent) Turn(ctx context.Context, snap protocol.TurnSnapshot) (protocol.Action, error) {
	a.mu.Lock()
	a.session.Observe(snap)
	sess := a.session
	a.mu.Unlock()

	carried := a.planner.Carry()
	res, err := a.planner.Think(ctx, planner.Turn{
		Snapshot:      snap,
		GameTurn:      sess.Turn,
		Brews:         sess.Brews,
		OpponentBrews: sess.OpponentBrews,
	})

	action := res.Action
	action.Note = fmt.Sprintf("loop:%d %dms", res.Expansions, res.Elapsed.Milliseconds())

	entry := protocol.TurnLogEntry{
		Version:       protocol.Version,
		SessionID:     a.cfg.SessionID,
		Turn:          sess.Turn,
		Brews:         sess.Brews,
		OpponentBrews: sess.OpponentBrews,
		Snapshot:      snap,
		Decision: protocol.Decision{
			Action:     action.Command(),
			Plan:       planStrings(res.Plan),
			Score:      res.Score,
			Price:      res.Price,
			Expansions: res.Expansions,
			Rounds:     res.Rounds,
			ElapsedUs:  res.Elapsed.Microseconds(),
			Exhausted:  res.Exhausted,
			FellBack:   res.FellBack,
		},
	}

	ev := a.log.Debug()
	if err != nil {
		entry.Decision.Error = err.Error()
		ev = a.log.Error().Err(err)
	}
	ev.Int("turn", sess.Turn).
		Str("action", entry.Decision.Action).
		Float64("score", res.Score).
		Int("expansions", res.Expansions).
		Int("rounds", res.Rounds).
		Int("survey_expansions", res.Survey.Expansions).
		Dur("elapsed", res.Elapsed).
		Msg("turn-decided")
	if res.Exhausted {
		a.log.Warn().Int("turn", sess.Turn).Int("capacity", a.cfg.Tuning.Search.PoolCapacity).Msg("search-exhausted")
	}
	if res.FellBack && err == nil {
		a.log.Warn().Int("turn", sess.Turn).Msg("search-fell-back")
	}

	a.record(entry, carried)

	a.mu.Lock()
	a.session.Turn++
	a.mu.Unlock()
	return action, err
}

func (a *Agent) record(entry protocol.TurnLogEntry, carried []planner.Command) {
	for _, w := range a.cfg.Writers {
		if err := w.WriteTurn(entry); err != nil {
			a.log.Warn().Err(err).Int("turn", entry.Turn).Msg("turn-write-failed")
		}
	}
	if a.cfg.Publisher != nil {
		a.cfg.Publisher.Publish(entry)
	}
	if a.cfg.SnapshotDir == "" {
		return
	}
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{SessionID: entry.SessionID, Turn: entry.Turn},
		Brews:         entry.Brews,
		OpponentBrews: entry.OpponentBrews,
		CatalogDigest: a.cfg.Catalogs.Digest(),
		TuningDigest:  a.cfg.Tuning.Digest(),
		Turn:          entry.Snapshot,
		Prev:          carried,
	}
	path := snapshot.PathFor(a.cfg.SnapshotDir, entry.SessionID, entry.Turn)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("snapshot-write-failed")
		return
	}
	if a.cfg.SnapshotIndex != nil {
		a.cfg.SnapshotIndex.RecordSnapshot(path, snap)
	}
}

func planStrings(plan []planner.Command) []string {
	out := make([]string, len(plan))
	for i, c := range plan {
		out[i] = c.String()
	}
	return out
}
