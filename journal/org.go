package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
)

// FormatTradeOrg renders a trade as an Org-mode block for a trading
// journal. Facts go in the PROPERTIES drawer; the Notes heading is left
// for the reader.
func FormatTradeOrg(t ledger.TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %d %s @ %s (#%d)\n", t.Side, t.Quantity, t.Symbol, t.Price.StringFixed(2), t.ID)
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %d\n", t.ID)
	if id := intentString(t.IntentID); id != "" {
		fmt.Fprintf(&b, ":INTENT_ID: %s\n", id)
		fmt.Fprintf(&b, ":INTENT: %s\n", shortID(id))
	}
	fmt.Fprintf(&b, ":TIME: %s\n", t.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":QUANTITY: %d\n", t.Quantity)
	fmt.Fprintf(&b, ":PRICE: %s\n", t.Price.StringFixed(4))
	fmt.Fprintf(&b, ":QUOTE_PRICE: %s\n", t.QuotePrice.StringFixed(4))
	fmt.Fprintf(&b, ":COMMISSION: %s\n", t.Commission.StringFixed(2))
	fmt.Fprintf(&b, ":CASH_DELTA: %s\n", t.CashDelta.StringFixed(2))
	fmt.Fprintf(&b, ":REALIZED_PL: %s\n", t.RealizedPL.StringFixed(2))
	fmt.Fprintf(&b, ":SOURCE: %s\n", t.Source)
	b.WriteString(":END:\n")
	b.WriteString("\n*** Notes\n- \n")
	return b.String()
}

// FormatTradesOrg renders trades separated by blank lines.
func FormatTradesOrg(trades []ledger.TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// shortID keeps the random tail; ULIDs minted close together share their
// leading time characters.
func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
