package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxHorizon is the deepest plan a search node can record.
const MaxHorizon = 32

var ErrInvalidTuning = errors.New("invalid tuning")

type Tuning struct {
	Search Search `yaml:"search"`
	Rules  Rules  `yaml:"rules"`
	Eval   Eval   `yaml:"eval"`
}

type Search struct {
	Horizon      int `yaml:"horizon"`
	Width        int `yaml:"width"`
	PoolCapacity int `yaml:"pool_capacity"`
	BudgetMs     int `yaml:"budget_ms"`

	OpponentHorizon      int `yaml:"opponent_horizon"`
	OpponentWidth        int `yaml:"opponent_width"`
	OpponentPoolCapacity int `yaml:"opponent_pool_capacity"`
	OpponentBudgetMs     int `yaml:"opponent_budget_ms"`

	SeedPreviousPlan bool `yaml:"seed_previous_plan"`
}

func (s Search) Budget() time.Duration { return time.Duration(s.BudgetMs) * time.Millisecond }
func (s Search) OpponentBudget() time.Duration {
	return time.Duration(s.OpponentBudgetMs) * time.Millisecond
}

type Rules struct {
	Capacity  int `yaml:"capacity"`
	BrewQuota int `yaml:"brew_quota"`
}

type Eval struct {
	BrewWeight  float64 `yaml:"brew_weight"`
	CastReward  float64 `yaml:"cast_reward"`
	LearnReward float64 `yaml:"learn_reward"`

	// Learn reward falls linearly to LearnFloor over LearnDecayTurns game turns.
	LearnDecayTurns int     `yaml:"learn_decay_turns"`
	LearnFloor      float64 `yaml:"learn_floor"`

	// decay[d] = exp(-d / (DecayScale * horizon))
	DecayScale float64 `yaml:"decay_scale"`

	ContestedFactor  float64 `yaml:"contested_factor"`
	CompletionWeight float64 `yaml:"completion_weight"`
	CompletionBonus  float64 `yaml:"completion_bonus"`

	// Positional brew bonuses may be collected at most RankBudget[r] times per plan.
	RankBudget []int `yaml:"rank_budget"`
}

func Defaults() Tuning {
	return Tuning{
		Search: Search{
			Horizon:              20,
			Width:                3,
			PoolCapacity:         1 << 18,
			BudgetMs:             35,
			OpponentHorizon:      3,
			OpponentWidth:        64,
			OpponentPoolCapacity: 1 << 15,
			OpponentBudgetMs:     10,
			SeedPreviousPlan:     true,
		},
		Rules: Rules{
			Capacity:  10,
			BrewQuota: 6,
		},
		Eval: Eval{
			BrewWeight:       1000,
			CastReward:       1,
			LearnReward:      0.5,
			LearnDecayTurns:  60,
			LearnFloor:       0.1,
			DecayScale:       2,
			ContestedFactor:  0.5,
			CompletionWeight: 1000,
			CompletionBonus:  100000,
			RankBudget:       []int{4, 4},
		},
	}
}

// Load overlays the YAML file at path onto Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Digest is the sha256 of the canonical JSON form of t.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (t Tuning) Validate() error {
	s := t.Search
	switch {
	case s.Horizon < 1 || s.Horizon > MaxHorizon:
		return fmt.Errorf("%w: horizon %d not in [1,%d]", ErrInvalidTuning, s.Horizon, MaxHorizon)
	case s.OpponentHorizon < 1 || s.OpponentHorizon > MaxHorizon:
		return fmt.Errorf("%w: opponent_horizon %d not in [1,%d]", ErrInvalidTuning, s.OpponentHorizon, MaxHorizon)
	case s.Width < 1 || s.OpponentWidth < 1:
		return fmt.Errorf("%w: width must be positive", ErrInvalidTuning)
	case s.PoolCapacity < 1 || s.OpponentPoolCapacity < 1:
		return fmt.Errorf("%w: pool capacity must be positive", ErrInvalidTuning)
	case s.BudgetMs < 0 || s.OpponentBudgetMs < 0:
		return fmt.Errorf("%w: negative budget", ErrInvalidTuning)
	}
	if t.Rules.Capacity < 1 || t.Rules.Capacity > 127 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidTuning, t.Rules.Capacity)
	}
	if t.Rules.BrewQuota < 1 {
		return fmt.Errorf("%w: brew_quota %d", ErrInvalidTuning, t.Rules.BrewQuota)
	}
	if t.Eval.DecayScale <= 0 {
		return fmt.Errorf("%w: decay_scale must be positive", ErrInvalidTuning)
	}
	if t.Eval.LearnFloor < 0 || t.Eval.LearnFloor > 1 {
		return fmt.Errorf("%w: learn_floor %v not in [0,1]", ErrInvalidTuning, t.Eval.LearnFloor)
	}
	if len(t.Eval.RankBudget) > 2 {
		return fmt.Errorf("%w: rank_budget has %d ranks, at most 2", ErrInvalidTuning, len(t.Eval.RankBudget))
	}
	return nil
}
