package logger

import (
	"vapor-chat/pkg/utils"

	zl "github.com/rs/zerolog"
)

// at stamps the event with the location of the exported logging call that
// invoked it, so it must be called directly from those functions.
func at(e *zl.Event) *zl.Event {
	return e.Str(lineOfCode, utils.GetFileAndLoC(2))
}

// failure returns an error level event carrying err when there is one
func failure(err error) *zl.Event {
	if err != nil {
		return log.engine.Err(err)
	}
	return log.engine.Error()
}

// Debug logs a debug message
func Debug(message string) {
	at(log.engine.Debug()).Msg(message)
}

// Debugf logs a debug message given a template and arguments
func Debugf(template string, args ...interface{}) {
	at(log.engine.Debug()).Msgf(template, args...)
}

// Info logs an info message
func Info(message string) {
	at(log.engine.Info()).Msg(message)
}

// Infof logs an info message given a template and arguments
func Infof(template string, args ...interface{}) {
	at(log.engine.Info()).Msgf(template, args...)
}

// Warn logs a warning message
func Warn(message string) {
	at(log.engine.Warn()).Msg(message)
}

// Warnf logs a warning message given a template and arguments
func Warnf(template string, args ...interface{}) {
	at(log.engine.Warn()).Msgf(template, args...)
}

// Error logs err with message at error level
func Error(err error, message string) {
	at(failure(err)).Msg(message)
}

// Errorf logs err at error level with a formatted message
func Errorf(err error, template string, args ...interface{}) {
	at(failure(err)).Msgf(template, args...)
}

// Fatalf logs at fatal level and exits the process
func Fatalf(template string, args ...interface{}) {
	at(log.engine.Fatal()).Msgf(template, args...)
}
