package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	persistlog "cauldron.ai/internal/persistence/log"
	"cauldron.ai/internal/persistence/snapshot"
	"cauldron.ai/internal/planner"
	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

func main() {
	var (
		turnsDir    = flag.String("turns", "", "turn log dir containing turns-*.jsonl.zst")
		snapPath    = flag.String("snapshot", "", "path to a turn .snap.zst to re-think")
		budgets     = flag.String("budgets", "5,10,20,40,80", "comma-separated budgets in ms for -snapshot")
		summaryOnly = flag.Bool("summary", false, "only summarize the turn log, do not re-think")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: compiled-in defaults)")
		catalogDir  = flag.String("catalogs", "", "catalog directory (default: embedded)")
		step        = flag.Duration("step", time.Millisecond, "simulated clock step per deadline poll")
	)
	flag.Parse()

	if *turnsDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -turns or -snapshot")
		os.Exit(2)
	}

	cats, tune, err := loadInputs(*catalogDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *snapPath != "" {
		bs, err := parseBudgets(*budgets)
		if err != nil {
			fmt.Fprintln(os.Stderr, "budgets:", err)
			os.Exit(2)
		}
		if err := rethinkSnapshot(os.Stdout, *snapPath, cats, tune, bs, *step); err != nil {
			fmt.Fprintln(os.Stderr, "snapshot:", err)
			os.Exit(1)
		}
	}
	if *turnsDir == "" {
		return
	}

	files, err := persistlog.ListFiles(*turnsDir, persistlog.TurnPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list turns:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no turn files found in", *turnsDir)
		os.Exit(1)
	}

	if *summaryOnly {
		s := newSummary()
		for _, path := range files {
			if err := persistlog.ReadLines(path, s.add); err != nil {
				fmt.Fprintln(os.Stderr, "summary:", err)
				os.Exit(1)
			}
		}
		s.print(os.Stdout)
		return
	}

	r := newReplayer(cats, tune, *step)
	for _, path := range files {
		if err := persistlog.ReadLines(path, r.line); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: turns=%d sessions=%d same=%d drift=%d\n", r.turns, len(r.plans), r.turns-r.drift, r.drift)
}

func loadInputs(catalogDir, tuningPath string) (*catalogs.Catalogs, tuning.Tuning, error) {
	var (
		cats *catalogs.Catalogs
		err  error
	)
	if catalogDir == "" {
		cats, err = catalogs.LoadDefault()
	} else {
		cats, err = catalogs.Load(catalogDir)
	}
	if err != nil {
		return nil, tuning.Tuning{}, fmt.Errorf("load catalogs: %w", err)
	}
	tune := tuning.Defaults()
	if tuningPath != "" {
		if tune, err = tuning.Load(tuningPath); err != nil {
			return nil, tune, fmt.Errorf("load tuning: %w", err)
		}
	}
	return cats, tune, nil
}

func parseBudgets(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad budget %q", f)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no budgets")
	}
	sort.Ints(out)
	return out, nil
}

// rethinkSnapshot decides one stored turn under increasing budgets. Under the
// simulated clock a larger budget must never produce a worse plan.
func rethinkSnapshot(w io.Writer, path string, cats *catalogs.Catalogs, tune tuning.Tuning, budgets []int, step time.Duration) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "snapshot v%d session=%s turn=%d brews=%d opponent_brews=%d offers=%d prev=%d\n",
		snap.Header.Version, snap.Header.SessionID, snap.Header.Turn, snap.Brews, snap.OpponentBrews, len(snap.Turn.Offers), len(snap.Prev))
	if snap.CatalogDigest != "" && snap.CatalogDigest != cats.Digest() {
		fmt.Fprintln(w, "warning: catalog digest differs from the recorded session")
	}

	best := 0.0
	for i, b := range budgets {
		t := tune
		t.Search.BudgetMs = b
		p := planner.New(cats, t, planner.NewStepClock(step))
		p.Restore(snap.Prev)
		res, err := p.Think(context.Background(), snap.PlannerTurn())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "budget=%dms action=%q score=%.3f price=%d expansions=%d rounds=%d fell_back=%v\n",
			b, res.Action.Command(), res.Score, res.Price, res.Expansions, res.Rounds, res.FellBack)
		if i > 0 && res.Score < best {
			return fmt.Errorf("score fell from %.3f to %.3f at budget %dms", best, res.Score, b)
		}
		best = res.Score
	}
	return nil
}

// replayer re-decides logged turns with one planner. Only the plan carried
// between turns is kept per session.
type replayer struct {
	planner *planner.Planner
	plans   map[string][]planner.Command
	turns   int
	drift   int
}

func newReplayer(cats *catalogs.Catalogs, tune tuning.Tuning, step time.Duration) *replayer {
	return &replayer{
		planner: planner.New(cats, tune, planner.NewStepClock(step)),
		plans:   map[string][]planner.Command{},
	}
}

func (r *replayer) line(raw []byte) error {
	if err := protocol.ValidateTurnLog(raw); err != nil {
		return fmt.Errorf("turn %d: schema: %w", gjson.GetBytes(raw, "turn").Int(), err)
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return err
	}
	r.planner.Restore(r.plans[entry.SessionID])
	res, err := r.planner.Think(context.Background(), planner.Turn{
		Snapshot:      entry.Snapshot,
		GameTurn:      entry.Turn,
		Brews:         entry.Brews,
		OpponentBrews: entry.OpponentBrews,
	})
	if err != nil && entry.Decision.Error == "" {
		return fmt.Errorf("session %s turn %d: %w", entry.SessionID, entry.Turn, err)
	}
	r.plans[entry.SessionID] = r.planner.Carry()
	r.turns++
	if got := res.Action.Command(); got != entry.Decision.Action {
		r.drift++
		fmt.Printf("drift session=%s turn=%d logged=%q replayed=%q\n", entry.SessionID, entry.Turn, entry.Decision.Action, got)
	}
	return nil
}

func decodeEntry(raw []byte) (protocol.TurnLogEntry, error) {
	var e protocol.TurnLogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("unmarshal: %w", err)
	}
	return e, nil
}

type summary struct {
	turns     int
	sessions  map[string]int
	ops       map[string]int
	fellBack  int
	exhausted int
	errors    int
	expand    int64
	elapsedUs int64
	maxUs     int64
}

func newSummary() *summary {
	return &summary{sessions: map[string]int{}, ops: map[string]int{}}
}

func (s *summary) add(raw []byte) error {
	res := gjson.GetManyBytes(raw, "session_id", "decision.action", "decision.fell_back", "decision.exhausted", "decision.expansions", "decision.elapsed_us", "decision.error")
	if !res[1].Exists() {
		return fmt.Errorf("line without decision.action")
	}
	s.turns++
	s.sessions[res[0].String()]++
	op, _, _ := strings.Cut(res[1].String(), " ")
	s.ops[op]++
	if res[2].Bool() {
		s.fellBack++
	}
	if res[3].Bool() {
		s.exhausted++
	}
	s.expand += res[4].Int()
	us := res[5].Int()
	s.elapsedUs += us
	if us > s.maxUs {
		s.maxUs = us
	}
	if res[6].String() != "" {
		s.errors++
	}
	return nil
}

func (s *summary) print(w io.Writer) {
	fmt.Fprintf(w, "turns=%d sessions=%d fell_back=%d exhausted=%d errors=%d\n", s.turns, len(s.sessions), s.fellBack, s.exhausted, s.errors)
	if s.turns > 0 {
		fmt.Fprintf(w, "avg_expansions=%d avg_elapsed_us=%d max_elapsed_us=%d\n", s.expand/int64(s.turns), s.elapsedUs/int64(s.turns), s.maxUs)
	}
	ops := make([]string, 0, len(s.ops))
	for op := range s.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "%-6s %d\n", op, s.ops[op])
	}
}
