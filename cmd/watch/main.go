package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cauldron.ai/internal/observerproto"
)

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8091/observer/ws", "observer ws url")
		snapshot = flag.Bool("snapshot", false, "ask for the full turn snapshot with each decision")
		plan     = flag.Bool("plan", false, "print the carried plan under each decision")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Str("component", "watch").Logger()
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		IncludeSnapshot: *snapshot,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatal().Err(err).Msg("send SUBSCRIBE")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	n, err := watch(conn, os.Stdout, *plan)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Warn().Err(err).Int("decisions", n).Msg("stream ended")
		return
	}
	logger.Info().Int("decisions", n).Msg("stream closed")
}

type messageReader interface {
	ReadMessage() (int, []byte, error)
}

// watch prints every DECISION message until the connection fails.
func watch(conn messageReader, w io.Writer, withPlan bool) (int, error) {
	n := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return n, err
		}
		var m observerproto.DecisionMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Type != "DECISION" {
			continue
		}
		n++
		fmt.Fprintln(w, formatDecision(m))
		if withPlan && len(m.Decision.Plan) > 0 {
			fmt.Fprintf(w, "    plan: %s\n", strings.Join(m.Decision.Plan, " > "))
		}
	}
}

func formatDecision(m observerproto.DecisionMsg) string {
	d := m.Decision
	var b strings.Builder
	fmt.Fprintf(&b, "turn=%-3d brews=%d/%d %-12s score=%.2f price=%d exp=%d rounds=%d %dus",
		m.Turn, m.Brews, m.OpponentBrews, d.Action, d.Score, d.Price, d.Expansions, d.Rounds, d.ElapsedUs)
	if d.Exhausted {
		b.WriteString(" exhausted")
	}
	if d.FellBack {
		b.WriteString(" fell_back")
	}
	if d.Error != "" {
		fmt.Fprintf(&b, " error=%q", d.Error)
	}
	if m.Snapshot != nil {
		s := m.Snapshot
		fmt.Fprintf(&b, " self=%v/%d opp=%v/%d offers=%d", s.Self.Tiers, s.Self.Score, s.Opponent.Tiers, s.Opponent.Score, len(s.Offers))
	}
	return b.String()
}
