package notify

import (
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// LogSink writes events as structured log lines. Rejections log at warn.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("events")}
}

func (s *LogSink) Publish(e Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("symbol", e.Symbol),
		zap.Time("event_time", e.Time),
	}
	if e.Side != "" {
		fields = append(fields, zap.String("side", string(e.Side)))
	}
	if e.Quantity != 0 {
		fields = append(fields, zap.Int64("quantity", e.Quantity))
	}
	if !e.Price.IsZero() {
		fields = append(fields, zap.String("price", e.Price.String()))
	}
	if e.Source != "" {
		fields = append(fields, zap.String("source", e.Source))
	}
	if e.TradeID != 0 {
		fields = append(fields, zap.Int64("trade_id", e.TradeID))
	}
	if e.IntentID != (ulid.ULID{}) {
		fields = append(fields, zap.String("intent_id", e.IntentID.String()))
	}
	if e.RuleID != "" {
		fields = append(fields, zap.String("rule_id", e.RuleID))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	switch e.Kind {
	case KindRejected:
		s.log.Warn("trade rejected", fields...)
	case KindRuleFired:
		s.log.Info("rule fired", fields...)
	default:
		s.log.Info("trade filled", fields...)
	}
}
