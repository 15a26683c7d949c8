package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// badKey labels a trailing value that has no key, as slog does.
const badKey = "!BADKEY"

// DispatcherLogger writes dispatcher key/value logs to a zerolog.Logger.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger wraps logger for use by the dispatcher.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

// Debug logs at debug level.
func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	send(l.logger.Debug(), msg, keysAndValues)
}

// Info logs at info level.
func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	send(l.logger.Info(), msg, keysAndValues)
}

// Error logs at error level.
func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	send(l.logger.Error(), msg, keysAndValues)
}

// send adds the pairs to e with typed fields and writes it. A nil event
// means the level is disabled.
func send(e *zerolog.Event, msg string, keysAndValues []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 == len(keysAndValues) {
			e.Interface(badKey, keysAndValues[i])
			break
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			e.AnErr(key, v)
		case time.Duration:
			e.Dur(key, v)
		case fmt.Stringer:
			e.Stringer(key, v)
		case string:
			e.Str(key, v)
		default:
			e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
