// SPDX-License-Identifier: MIT
package validate

// LogLevel represents valid log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// LogLevels lists the accepted level names.
func LogLevels() []string {
	return []string{string(LogLevelDebug), string(LogLevelInfo), string(LogLevelWarn), string(LogLevelError)}
}
