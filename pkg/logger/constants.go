package logger

// log level strings accepted by LOG_LEVEL
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// log format strings accepted by LOG_FORMAT; anything else is json
const (
	ConsoleFormat = "console"
	JSONFormat    = "json"
)

// Cloud Logging structured field names used by the json format
const (
	timestampField = "timestamp"
	severityField  = "severity"
	messageField   = "message"
)

// lineOfCode is the field carrying the caller's file:line
const lineOfCode = "loc"
