package node

import (
	"fmt"
	"log"
	"os"
)

// logLevel mirrors Config.LogLevel's allowed values as an ordered type so
// Logger can cheaply decide whether to format a message.
type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

func parseLogLevel(s string) logLevel {
	switch s {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Logger is a thin leveled wrapper over the standard library's log.Logger,
// matching the teacher's reliance on stdlib log rather than a structured
// logging framework.
type Logger struct {
	min logLevel
	std *log.Logger
}

func NewLogger(levelName string) *Logger {
	return &Logger{
		min: parseLogLevel(levelName),
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(levelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(levelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(levelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(levelError, "ERROR", format, args...) }

func (l *Logger) logf(level logLevel, tag, format string, args ...any) {
	if l == nil || l.std == nil || level < l.min {
		return
	}
	l.std.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}
