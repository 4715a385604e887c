package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const tradeColumns = `id, intent_id, time, symbol, side, quantity, price, quote_price, commission, cash_delta, realized_pl, source`

// tradeRow is the text form of a trade as both SQL stores scan it.
type tradeRow struct {
	ID         int64
	IntentID   string
	Time       time.Time
	Symbol     string
	Side       string
	Quantity   int64
	Price      string
	QuotePrice string
	Commission string
	CashDelta  string
	RealizedPL string
	Source     string
}

func (r tradeRow) record() (ledger.TradeRecord, error) {
	rec := ledger.TradeRecord{
		ID:       r.ID,
		Time:     r.Time.UTC(),
		Symbol:   r.Symbol,
		Side:     market.Side(r.Side),
		Quantity: r.Quantity,
		Source:   r.Source,
	}
	var err error
	if rec.IntentID, err = parseIntent(r.IntentID); err != nil {
		return rec, fmt.Errorf("trade %d: %w", r.ID, err)
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.Price, r.Price},
		{&rec.QuotePrice, r.QuotePrice},
		{&rec.Commission, r.Commission},
		{&rec.CashDelta, r.CashDelta},
		{&rec.RealizedPL, r.RealizedPL},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return rec, fmt.Errorf("trade %d: %w", r.ID, err)
		}
	}
	return rec, nil
}

func intentString(u ulid.ULID) string {
	if u == (ulid.ULID{}) {
		return ""
	}
	return u.String()
}

func parseIntent(s string) (ulid.ULID, error) {
	if s == "" {
		return ulid.ULID{}, nil
	}
	return id.Parse(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// filterClause renders f as a WHERE clause. placeholder returns the bind
// marker for the n-th argument, and timeArg converts a bound time.
func filterClause(f TradeFilter, placeholder func(n int) string, timeArg func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}
	if !f.From.IsZero() {
		add("time >= %s", timeArg(f.From))
	}
	if !f.To.IsZero() {
		add("time < %s", timeArg(f.To))
	}
	if f.Symbol != "" {
		add("symbol = %s", market.NormalizeSymbol(f.Symbol))
	}
	if f.Side != "" {
		add("side = %s", string(f.Side))
	}
	if f.Source != "" {
		add("source = %s", f.Source)
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id ASC")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), args
}
