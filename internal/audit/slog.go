package audit

import (
	"context"
	"log/slog"
	"sort"

	"github.com/vietddude/txguard/internal/metrics"
)

// SlogLog writes each audit event as one slog record.
type SlogLog struct {
	log *slog.Logger
}

// NewSlogLog creates a slog-backed audit log. A nil logger uses slog.Default().
func NewSlogLog(logger *slog.Logger) *SlogLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLog{log: logger.With("component", "audit")}
}

func (s *SlogLog) Log(e Event) {
	attrs := make([]slog.Attr, 0, len(e.Data)+3)
	attrs = append(attrs, slog.String("type", string(e.Type)))
	if e.TradeID != "" {
		attrs = append(attrs, slog.String("trade_id", e.TradeID))
	}
	if e.Level == LevelCritical {
		attrs = append(attrs, slog.Bool("critical", true))
	}

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Data[k]))
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	s.log.LogAttrs(context.Background(), slogLevel(e.Level), msg, attrs...)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogAlertSink reports alerts through slog. It is the default when no external sink is wired.
type LogAlertSink struct {
	log *slog.Logger
}

// NewLogAlertSink creates an alert sink that logs at error level.
func NewLogAlertSink(logger *slog.Logger) *LogAlertSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlertSink{log: logger.With("component", "alert")}
}

func (s *LogAlertSink) Alert(a Alert) {
	s.log.Error(a.Message, "type", a.Type, "level", a.Level, "data", a.Data)
}

// Counter counts events in prometheus.
type Counter struct{}

func (Counter) Log(e Event) {
	metrics.AuditEventsTotal.WithLabelValues(string(e.Type), string(e.Level)).Inc()
}
