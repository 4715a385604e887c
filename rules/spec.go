package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/market"
)

// Spec is the configuration form of a Rule.
type Spec struct {
	ID              string      `yaml:"id" json:"id"`
	Symbol          string      `yaml:"symbol" json:"symbol"`
	Trigger         TriggerSpec `yaml:"trigger" json:"trigger"`
	Action          ActionSpec  `yaml:"action" json:"action"`
	Enabled         *bool       `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CooldownSeconds int         `yaml:"cooldown_seconds,omitempty" json:"cooldown_seconds,omitempty"`
}

// TriggerSpec selects a trigger by Type; only the fields of that type are
// read.
type TriggerSpec struct {
	Type string `yaml:"type" json:"type"` // price_threshold | ma_cross | percent_move

	Op    string          `yaml:"op,omitempty" json:"op,omitempty"`
	Level decimal.Decimal `yaml:"level,omitempty" json:"level,omitempty"`

	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Fast int    `yaml:"fast,omitempty" json:"fast,omitempty"`
	Slow int    `yaml:"slow,omitempty" json:"slow,omitempty"`

	Direction string  `yaml:"direction,omitempty" json:"direction,omitempty"`
	Lookback  int     `yaml:"lookback,omitempty" json:"lookback,omitempty"`
	Percent   float64 `yaml:"percent,omitempty" json:"percent,omitempty"`
}

type ActionSpec struct {
	Side              string          `yaml:"side" json:"side"`
	Quantity          int64           `yaml:"quantity,omitempty" json:"quantity,omitempty"`
	PercentOfPosition decimal.Decimal `yaml:"percent_of_position,omitempty" json:"percent_of_position,omitempty"`
}

// Trigger builds the concrete trigger.
func (t TriggerSpec) Trigger() (Trigger, error) {
	var tr Trigger
	switch strings.ToLower(t.Type) {
	case "price_threshold", "price":
		tr = PriceThreshold{Op: ThresholdOp(strings.ToLower(t.Op)), Level: t.Level}
	case "ma_cross":
		tr = MACross{
			Kind:      indicators.Kind(strings.ToLower(t.Kind)),
			Fast:      t.Fast,
			Slow:      t.Slow,
			Direction: Direction(strings.ToLower(t.Direction)),
		}
	case "percent_move":
		tr = PercentMove{
			Lookback:  t.Lookback,
			Percent:   t.Percent,
			Direction: Direction(strings.ToLower(t.Direction)),
		}
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t.Type)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

// Rule builds and validates the Rule. A zero cooldown is left zero so the
// evaluator applies its default.
func (s Spec) Rule() (Rule, error) {
	tr, err := s.Trigger.Trigger()
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", s.ID, err)
	}
	side, err := market.ParseSide(s.Action.Side)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", s.ID, err)
	}
	if s.CooldownSeconds < 0 {
		return Rule{}, fmt.Errorf("rule %s: cooldown_seconds must be >= 0", s.ID)
	}

	r := Rule{
		ID:      s.ID,
		Symbol:  market.NormalizeSymbol(s.Symbol),
		Trigger: tr,
		Action: Action{
			Side:              side,
			Quantity:          s.Action.Quantity,
			PercentOfPosition: s.Action.PercentOfPosition,
		},
		Enabled:  s.Enabled == nil || *s.Enabled,
		Cooldown: time.Duration(s.CooldownSeconds) * time.Second,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}
