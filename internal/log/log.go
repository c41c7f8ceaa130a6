package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levels = []logutils.LogLevel{
	logutils.LogLevel(LevelDebug),
	logutils.LogLevel(LevelInfo),
	logutils.LogLevel(LevelWarn),
	logutils.LogLevel(LevelError),
}

var (
	mu         sync.Mutex
	logger     *stdlog.Logger
	filter     *logutils.LevelFilter
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write to stderr through a
// level filter. The default minimum level is INFO.
func initLogger() {
	loggerOnce.Do(func() {
		filter = &logutils.LevelFilter{
			Levels:   levels,
			MinLevel: logutils.LogLevel(LevelInfo),
			Writer:   os.Stderr,
		}
		logger = stdlog.New(filter, "", 0)
	})
}

// SetLevel changes the minimum level that reaches the output.
func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	filter.SetMinLevel(logutils.LogLevel(l))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	filter.Writer = w
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()

	ts := time.Now().Format(time.RFC3339Nano)

	// 2025-01-01T00:00:00Z [LEVEL] msg key=value ...
	// The bracketed level is what logutils filters on.
	line := ts + " [" + string(level) + "] " + msg
	if len(kv) > 0 {
		line += formatKVs(kv...)
	}

	mu.Lock()
	defer mu.Unlock()
	logger.Println(line)
}

func formatKVs(kv ...any) string {
	var b strings.Builder
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(kv[i+1]))
	}
	// If odd number of args, last one is ignored.
	return b.String()
}
