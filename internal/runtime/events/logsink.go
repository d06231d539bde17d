package events

import (
	"github.com/drblury/vuflow/internal/runtime/logging"
)

// LogSink writes every event to a ServiceLogger. Errors log at error level,
// everything else at debug.
type LogSink struct {
	logger logging.ServiceLogger
}

func NewLogSink(logger logging.ServiceLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ev Event) {
	fields := logging.LogFields{"kind": string(ev.Kind)}
	if ev.VUID != "" {
		fields["vu_id"] = ev.VUID
	}
	if ev.Name != "" {
		fields["name"] = ev.Name
	}

	switch ev.Kind {
	case KindError:
		s.logger.Error(ev.Message, nil, fields)
		return
	case KindCounter:
		fields["delta"] = ev.Delta
	case KindMatch:
		fields["success"] = ev.Success
		if ev.Match != nil {
			fields["expression"] = ev.Match.Expression
			fields["expected"] = ev.Match.Expected
			fields["got"] = ev.Match.Got
		}
	case KindResponse:
		fields["latency"] = ev.Latency.String()
		fields["status"] = ev.StatusCode
	}
	s.logger.Debug("event", fields)
}
