package observerproto

import "cauldron.ai/internal/protocol"

// Version is the observer protocol version (separate from the turn log version).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// IncludeSnapshot asks for the full turn snapshot in every DecisionMsg.
	IncludeSnapshot bool `json:"include_snapshot,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	CatalogDigest   string `json:"catalog_digest"`
	TuningDigest    string `json:"tuning_digest"`
	Turn            int    `json:"turn"`
	Brews           int    `json:"brews"`
	OpponentBrews   int    `json:"opponent_brews"`
}

// Server -> Client. Sent once per decided turn.
type DecisionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Turn            int    `json:"turn"`

	Brews         int `json:"brews"`
	OpponentBrews int `json:"opponent_brews"`

	Decision protocol.Decision      `json:"decision"`
	Snapshot *protocol.TurnSnapshot `json:"snapshot,omitempty"`
}

// NewDecisionMsg builds the message for one turn log entry.
func NewDecisionMsg(e protocol.TurnLogEntry, withSnapshot bool) DecisionMsg {
	m := DecisionMsg{
		Type:            "DECISION",
		ProtocolVersion: Version,
		SessionID:       e.SessionID,
		Turn:            e.Turn,
		Brews:           e.Brews,
		OpponentBrews:   e.OpponentBrews,
		Decision:        e.Decision,
	}
	if withSnapshot {
		snap := e.Snapshot
		m.Snapshot = &snap
	}
	return m
}
