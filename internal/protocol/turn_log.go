package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TurnLogEntry is one line of the turn log: what we saw and what we did.
type TurnLogEntry struct {
	Version   string `json:"version"`
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`

	Brews         int `json:"brews"`
	OpponentBrews int `json:"opponent_brews"`

	Snapshot TurnSnapshot `json:"snapshot"`
	Decision Decision     `json:"decision"`
}

type Decision struct {
	Action     string   `json:"action"`
	Plan       []string `json:"plan"`
	Score      float64  `json:"score"`
	Price      int      `json:"price"`
	Expansions int      `json:"expansions"`
	Rounds     int      `json:"rounds"`
	ElapsedUs  int64    `json:"elapsed_us"`
	Exhausted  bool     `json:"exhausted,omitempty"`
	FellBack   bool     `json:"fell_back,omitempty"`
	Error      string   `json:"error,omitempty"`
}

//go:embed schemas/turn_log.schema.json
var turnLogSchemaJSON []byte

var (
	turnLogOnce   sync.Once
	turnLogSchema *jsonschema.Schema
	turnLogErr    error
)

func compiledTurnLogSchema() (*jsonschema.Schema, error) {
	turnLogOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("turn_log.schema.json", bytes.NewReader(turnLogSchemaJSON)); err != nil {
			turnLogErr = err
			return
		}
		turnLogSchema, turnLogErr = c.Compile("turn_log.schema.json")
	})
	return turnLogSchema, turnLogErr
}

// ValidateTurnLog checks one raw turn log line against the embedded schema.
func ValidateTurnLog(raw []byte) error {
	s, err := compiledTurnLogSchema()
	if err != nil {
		return fmt.Errorf("compile turn log schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
