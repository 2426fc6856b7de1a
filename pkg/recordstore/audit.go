package recordstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/neardns/neardns/pkg/record"
)

// AuditSink receives one line per successful write.
type AuditSink interface {
	Audit(line string)
}

// SinkFunc adapts a function to AuditSink.
type SinkFunc func(line string)

func (f SinkFunc) Audit(line string) {
	f(line)
}

type zapSink struct {
	l *zap.Logger
}

func (s zapSink) Audit(line string) {
	s.l.Info(line)
}

// NewZapSink writes audit lines as info entries of l.
func NewZapSink(l *zap.Logger) AuditSink {
	return zapSink{l: l}
}

// FormatAudit renders the audit line of one upsert.
func FormatAudit(action record.Action, kind record.Kind, value string, owner record.Owner) string {
	return fmt.Sprintf("%s %s record '%s' for account '%s'", action.Verb(), kind.LogName(), value, owner)
}
