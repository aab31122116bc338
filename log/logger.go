package log

import (
	"io"
	"log"
	"os"
	"strings"

	configcat "github.com/configcat/go-sdk/v9"
)

type Level int

type Logger interface {
	GetConfigCatLevel() configcat.LogLevel // for the SDK

	Level() Level

	WithLevel(level Level) Logger
	WithPrefix(prefix string) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Reportf logs regardless of level
	Reportf(format string, args ...interface{})
}

const (
	Debug Level = iota
	Info
	Warn
	Error
	None
)

var levelNames = map[string]Level{
	"debug": Debug,
	"info":  Info,
	"warn":  Warn,
	"error": Error,
}

type logger struct {
	level       Level
	errorLogger *log.Logger
	outLogger   *log.Logger
	prefix      string
}

// ParseLevel returns None for unknown level names.
func ParseLevel(name string) Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return None
}

func NewNullLogger() Logger {
	return &logger{level: None}
}

func NewDebugLogger() Logger {
	return &logger{
		level:       Debug,
		errorLogger: log.New(os.Stderr, "", log.Ldate|log.Ltime|log.LUTC),
		outLogger:   log.New(os.Stdout, "", log.Ldate|log.Ltime|log.LUTC),
	}
}

func NewLogger(err io.Writer, out io.Writer, level Level) Logger {
	return &logger{
		level:       level,
		errorLogger: log.New(err, "", log.Ldate|log.Ltime|log.LUTC),
		outLogger:   log.New(out, "", log.Ldate|log.Ltime|log.LUTC),
	}
}

func (l *logger) WithLevel(level Level) Logger {
	if level == None && l.level != None {
		// an unset component level inherits the parent's
		level = l.level
	}
	return &logger{
		level:       level,
		errorLogger: l.errorLogger,
		outLogger:   l.outLogger,
		prefix:      l.prefix,
	}
}

func (l *logger) WithPrefix(prefix string) Logger {
	if l.prefix != "" {
		prefix = l.prefix + "/" + prefix
	}
	return &logger{
		level:       l.level,
		errorLogger: l.errorLogger,
		outLogger:   l.outLogger,
		prefix:      prefix,
	}
}

func (l *logger) GetConfigCatLevel() configcat.LogLevel {
	switch l.level {
	case Debug:
		return configcat.LogLevelDebug
	case Info:
		return configcat.LogLevelInfo
	case Warn:
		return configcat.LogLevelWarn
	case Error:
		return configcat.LogLevelError
	case None:
		return configcat.LogLevelNone
	default:
		return configcat.LogLevelWarn
	}
}

func (l *logger) Level() Level {
	return l.level
}

func (l *logger) Debugf(format string, values ...interface{}) {
	l.logf(Debug, format, values...)
}

func (l *logger) Infof(format string, values ...interface{}) {
	l.logf(Info, format, values...)
}

func (l *logger) Warnf(format string, values ...interface{}) {
	l.logf(Warn, format, values...)
}

func (l *logger) Errorf(format string, values ...interface{}) {
	l.logf(Error, format, values...)
}

func (l *logger) Reportf(format string, values ...interface{}) {
	if l.level == None || l.outLogger == nil {
		return
	}
	l.outLogger.Printf(l.decorate("", format), values...)
}

func (l *logger) logf(level Level, format string, values ...interface{}) {
	if level < l.level || l.level == None {
		return
	}
	lo := l.outLogger
	if level == Error {
		lo = l.errorLogger
	}
	if lo == nil {
		return
	}
	lo.Printf(l.decorate(level.prefix(), format), values...)
}

func (l *logger) decorate(levelPrefix string, format string) string {
	var b strings.Builder
	if levelPrefix != "" {
		b.WriteString(levelPrefix)
		b.WriteByte(' ')
	}
	if l.prefix != "" {
		b.WriteString("<" + l.prefix + "> ")
	}
	b.WriteString(format)
	return b.String()
}

func (level Level) String() string {
	for name, lvl := range levelNames {
		if lvl == level {
			return name
		}
	}
	return "none"
}

func (level Level) prefix() string {
	switch level {
	case Debug:
		return "[debug]"
	case Info:
		return "[info]"
	case Warn:
		return "[warning]"
	case Error:
		return "[error]"
	}
	return "-"
}
