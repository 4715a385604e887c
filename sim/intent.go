package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rustyeddy/papertrader/market"
)

// Rejection reasons. Use errors.Is against these.
var (
	ErrStaleOrMissingQuote = errors.New("stale or missing quote")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInvalidIntent       = errors.New("invalid intent")
)

const SourceManual = "manual"

// RuleSource is the intent source for trades submitted by rule id.
func RuleSource(id string) string { return "rule:" + id }

// TradeIntent is a request to trade. It is never persisted; only the
// resulting ledger.TradeRecord is.
type TradeIntent struct {
	ID       ulid.ULID
	Symbol   string
	Side     market.Side
	Quantity int64
	Source   string
}

// RuleID returns the rule that submitted the intent, or "".
func (in TradeIntent) RuleID() string {
	if rest, ok := strings.CutPrefix(in.Source, "rule:"); ok {
		return rest
	}
	return ""
}

func (in TradeIntent) String() string {
	return fmt.Sprintf("%s %d %s (%s)", in.Side, in.Quantity, in.Symbol, in.Source)
}

// Rejection is returned when an intent fails a precondition. The ledger is
// unchanged.
type Rejection struct {
	Reason error // one of the Err* sentinels
	Intent TradeIntent
	Detail string
	Cause  error
}

func reject(reason error, in TradeIntent, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Intent: in, Detail: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	var b strings.Builder
	b.WriteString("rejected ")
	b.WriteString(r.Intent.String())
	b.WriteString(": ")
	b.WriteString(r.Reason.Error())
	if r.Detail != "" {
		b.WriteString(": ")
		b.WriteString(r.Detail)
	}
	if r.Cause != nil {
		b.WriteString(": ")
		b.WriteString(r.Cause.Error())
	}
	return b.String()
}

func (r *Rejection) Unwrap() []error {
	if r.Cause == nil {
		return []error{r.Reason}
	}
	return []error{r.Reason, r.Cause}
}

// IsRejection reports whether err is a precondition rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}
