// Package rules evaluates auto-trading rules against incoming quotes and
// submits trade intents when they fire.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

// Action is what a fired rule trades. Exactly one of Quantity and
// PercentOfPosition is set.
type Action struct {
	Side              market.Side
	Quantity          int64
	PercentOfPosition decimal.Decimal // 0 < p <= 100
}

var hundred = decimal.NewFromInt(100)

func (a Action) Validate() error {
	if !a.Side.Valid() {
		return fmt.Errorf("action: unknown side %q", a.Side)
	}
	hasQty := a.Quantity != 0
	hasPct := !a.PercentOfPosition.IsZero()
	switch {
	case hasQty == hasPct:
		return errors.New("action: set exactly one of quantity and percent_of_position")
	case hasQty && a.Quantity < 0:
		return fmt.Errorf("action: quantity must be positive, got %d", a.Quantity)
	case hasPct && (a.PercentOfPosition.IsNegative() || a.PercentOfPosition.GreaterThan(hundred)):
		return fmt.Errorf("action: percent_of_position must be in (0, 100], got %s", a.PercentOfPosition)
	}
	return nil
}

// Resolve returns the share count for the action given the current
// position. Percent quantities are floored to whole shares.
func (a Action) Resolve(pos ledger.Position) int64 {
	if a.Quantity > 0 {
		return a.Quantity
	}
	held := pos.Quantity
	if held < 0 {
		held = -held
	}
	return decimal.NewFromInt(held).Mul(a.PercentOfPosition).Div(hundred).Floor().IntPart()
}

func (a Action) String() string {
	if a.Quantity > 0 {
		return fmt.Sprintf("%s %d", a.Side, a.Quantity)
	}
	return fmt.Sprintf("%s %s%% of position", a.Side, a.PercentOfPosition)
}

// Rule binds a trigger on one symbol to an action. A rule fires at most
// once per Cooldown.
type Rule struct {
	ID       string
	Symbol   string
	Trigger  Trigger
	Action   Action
	Enabled  bool
	Cooldown time.Duration
}

func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rule: id is required")
	}
	if err := market.ValidateSymbol(r.Symbol); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Trigger == nil {
		return fmt.Errorf("rule %s: trigger is required", r.ID)
	}
	if err := r.Trigger.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown must be >= 0", r.ID)
	}
	return nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%s: %s when %s", r.ID, r.Action, r.Trigger)
}

type State string

const (
	Disabled State = "disabled"
	Armed    State = "armed"
	Cooling  State = "cooling"
)

// Status is a point-in-time view of a rule.
type Status struct {
	Rule        Rule
	State       State
	CoolUntil   time.Time
	LastFired   time.Time
	LastOutcome string
	Fires       int
}
