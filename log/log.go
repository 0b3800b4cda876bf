// Package log is a thin leveled logging facade over logrus.
//
// Logging functions accept an optional context.Context as the first
// argument, then a message, then alternating key/value pairs. A bare
// trailing error is logged under the "error" key:
//
//	log.Info(ctx, "Starting HTTP server", "address", addr, "port", port)
//	log.Error("Browse failed", "objectID", id, err)
package log

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type Level uint8

// Levels, in decreasing order of severity. Values match logrus so the
// two can be converted freely.
const (
	LevelFatal = Level(logrus.FatalLevel)
	LevelError = Level(logrus.ErrorLevel)
	LevelWarn  = Level(logrus.WarnLevel)
	LevelInfo  = Level(logrus.InfoLevel)
	LevelDebug = Level(logrus.DebugLevel)
	LevelTrace = Level(logrus.TraceLevel)
)

var levelNames = map[string]Level{
	"fatal": LevelFatal,
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

type contextKey string

const loggerCtxKey = contextKey("logger")

var (
	currentLevel  = LevelInfo
	defaultLogger = logrus.New()
)

func init() {
	defaultLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	defaultLogger.SetLevel(logrus.Level(currentLevel))
}

// SetLevel changes the global log level.
func SetLevel(l Level) {
	currentLevel = l
	defaultLogger.SetLevel(logrus.Level(l))
}

// SetLevelString changes the global log level by name, case-insensitive.
// Unknown names fall back to info.
func SetLevelString(name string) {
	level, ok := levelNames[strings.ToLower(name)]
	if !ok {
		level = LevelInfo
	}
	SetLevel(level)
}

// CurrentLevel returns the global log level.
func CurrentLevel() Level { return currentLevel }

// IsGreaterOrEqualTo reports whether messages at the given level would
// be emitted. Use it to guard expensive field construction.
func IsGreaterOrEqualTo(level Level) bool { return currentLevel >= level }

// SetOutput redirects all log output, mainly for tests.
func SetOutput(w io.Writer) { defaultLogger.SetOutput(w) }

// NewContext returns a context whose logger carries the given key/value
// pairs. Log calls receiving this context include them automatically.
func NewContext(ctx context.Context, keyValuePairs ...interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := addFields(entryFromContext(ctx), keyValuePairs)
	return context.WithValue(ctx, loggerCtxKey, entry)
}

func Fatal(args ...interface{}) {
	entry, msg := parseArgs(args)
	entry.Fatal(msg)
}

func Error(args ...interface{}) {
	if currentLevel < LevelError {
		return
	}
	entry, msg := parseArgs(args)
	entry.Error(msg)
}

func Warn(args ...interface{}) {
	if currentLevel < LevelWarn {
		return
	}
	entry, msg := parseArgs(args)
	entry.Warn(msg)
}

func Info(args ...interface{}) {
	if currentLevel < LevelInfo {
		return
	}
	entry, msg := parseArgs(args)
	entry.Info(msg)
}

func Debug(args ...interface{}) {
	if currentLevel < LevelDebug {
		return
	}
	entry, msg := parseArgs(args)
	entry.Debug(msg)
}

func Trace(args ...interface{}) {
	if currentLevel < LevelTrace {
		return
	}
	entry, msg := parseArgs(args)
	entry.Trace(msg)
}

func parseArgs(args []interface{}) (*logrus.Entry, string) {
	entry := logrus.NewEntry(defaultLogger)
	if len(args) == 0 {
		return entry, ""
	}
	if ctx, ok := args[0].(context.Context); ok {
		entry = entryFromContext(ctx)
		args = args[1:]
	}
	if len(args) == 0 {
		return entry, ""
	}
	var msg string
	switch m := args[0].(type) {
	case string:
		msg = m
	case error:
		msg = m.Error()
	default:
		msg = fmt.Sprint(m)
	}
	return addFields(entry, args[1:]), msg
}

func entryFromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(defaultLogger)
}

func addFields(entry *logrus.Entry, keyValuePairs []interface{}) *logrus.Entry {
	for i := 0; i < len(keyValuePairs); i++ {
		switch kv := keyValuePairs[i].(type) {
		case error:
			entry = entry.WithField("error", kv.Error())
		case string:
			if i+1 < len(keyValuePairs) {
				entry = entry.WithField(kv, keyValuePairs[i+1])
				i++
			} else {
				entry = entry.WithField(kv, "!MISSING_VALUE!")
			}
		default:
			entry = entry.WithField(fmt.Sprintf("%v", kv), "!INVALID_KEY!")
		}
	}
	return entry
}
