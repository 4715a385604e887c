package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
)

// TradeCSVHeader is the first row written by WriteTradesCSV.
var TradeCSVHeader = []string{
	"id", "time", "symbol", "side", "quantity", "price", "quote_price",
	"commission", "cash_delta", "realized_pl", "source", "intent_id",
}

// WriteTradesCSV writes a header and one row per trade.
func WriteTradesCSV(w io.Writer, trades []ledger.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradeCSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Time.UTC().Format(time.RFC3339Nano),
			t.Symbol,
			string(t.Side),
			strconv.FormatInt(t.Quantity, 10),
			t.Price.String(),
			t.QuotePrice.String(),
			t.Commission.String(),
			t.CashDelta.String(),
			t.RealizedPL.String(),
			t.Source,
			intentString(t.IntentID),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
