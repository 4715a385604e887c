package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/market"
)

func TestSpecFromYAML(t *testing.T) {
	t.Parallel()

	src := `
- id: dip
  symbol: aapl
  trigger: {type: price_threshold, op: below, level: 90}
  action: {side: buy, quantity: 10}
  cooldown_seconds: 60
- id: golden
  symbol: SPY
  enabled: false
  trigger: {type: ma_cross, kind: ema, fast: 5, slow: 20, direction: up}
  action: {side: buy, quantity: 1}
- id: trail
  symbol: TSLA
  trigger: {type: percent_move, lookback: 10, percent: 2.5, direction: down}
  action: {side: sell, percent_of_position: "50"}
`
	var specs []Spec
	require.NoError(t, yaml.Unmarshal([]byte(src), &specs))
	require.Len(t, specs, 3)

	dip, err := specs[0].Rule()
	require.NoError(t, err)
	assert.Equal(t, "AAPL", dip.Symbol)
	assert.True(t, dip.Enabled)
	assert.Equal(t, 60*time.Second, dip.Cooldown)
	th, ok := dip.Trigger.(PriceThreshold)
	require.True(t, ok)
	assert.Equal(t, Below, th.Op)
	assert.Equal(t, "90", th.Level.String())

	golden, err := specs[1].Rule()
	require.NoError(t, err)
	assert.False(t, golden.Enabled)
	assert.Equal(t, time.Duration(0), golden.Cooldown)
	assert.Equal(t, MACross{Kind: indicators.KindEMA, Fast: 5, Slow: 20, Direction: Up}, golden.Trigger)

	trail, err := specs[2].Rule()
	require.NoError(t, err)
	assert.Equal(t, market.Sell, trail.Action.Side)
	assert.Equal(t, "50", trail.Action.PercentOfPosition.String())
	assert.Equal(t, PercentMove{Lookback: 10, Percent: 2.5, Direction: Down}, trail.Trigger)
}

func TestSpecErrors(t *testing.T) {
	t.Parallel()

	base := func() Spec {
		return Spec{
			ID:      "r",
			Symbol:  "AAPL",
			Trigger: TriggerSpec{Type: "price_threshold", Op: "above", Level: d("10")},
			Action:  ActionSpec{Side: "buy", Quantity: 1},
		}
	}

	_, err := base().Rule()
	require.NoError(t, err)

	tests := []struct {
		name string
		mod  func(*Spec)
	}{
		{"unknown trigger", func(s *Spec) { s.Trigger.Type = "expression" }},
		{"bad op", func(s *Spec) { s.Trigger.Op = "near" }},
		{"zero level", func(s *Spec) { s.Trigger.Level = d("0") }},
		{"bad side", func(s *Spec) { s.Action.Side = "hold" }},
		{"no quantity", func(s *Spec) { s.Action.Quantity = 0 }},
		{"missing id", func(s *Spec) { s.ID = "" }},
		{"bad symbol", func(s *Spec) { s.Symbol = "A A" }},
		{"negative cooldown", func(s *Spec) { s.CooldownSeconds = -1 }},
		{"ma slow not greater", func(s *Spec) {
			s.Trigger = TriggerSpec{Type: "ma_cross", Kind: "sma", Fast: 5, Slow: 5, Direction: "up"}
		}},
		{"move without direction", func(s *Spec) {
			s.Trigger = TriggerSpec{Type: "percent_move", Lookback: 3, Percent: 1}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := base()
			tt.mod(&s)
			_, err := s.Rule()
			assert.Error(t, err)
		})
	}
}
