// Package logger is the leveled, structured logger of exportsync. Lines go to
// stderr as either a human-readable line or one JSON object per entry.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents the severity level of log messages
type Level int

const (
	TraceLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	TraceLevel: "TRACE",
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var levelColors = map[Level]*color.Color{
	TraceLevel: color.New(color.FgWhite),
	DebugLevel: color.New(color.FgCyan),
	InfoLevel:  color.New(color.FgGreen),
	WarnLevel:  color.New(color.FgYellow),
	ErrorLevel: color.New(color.FgRed),
}

// String returns the string representation of the level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a flag value to a Level. Unknown values yield InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config holds the logger configuration
type Config struct {
	Level     Level
	UseColor  bool
	JSON      bool
	Component string
	Output    io.Writer // defaults to os.Stderr
}

// Logger writes entries at or above its level. It is safe for concurrent use;
// candidate builders log from several goroutines.
type Logger struct {
	mu     sync.Mutex
	config Config
	out    io.Writer
}

var defaultLogger *Logger

// New returns a logger for config, filling in the component and output.
func New(config Config) *Logger {
	if config.Component == "" {
		config.Component = "exportsync"
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{config: config, out: out}
}

// Initialize sets up the default logger
func Initialize(config Config) error {
	defaultLogger = New(config)
	return nil
}

// Entry is one log record as written in JSON mode.
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Log writes a log message
func (l *Logger) Log(level Level, message string, fields ...Field) {
	l.log(2, level, message, fields)
}

// log skips callerSkip frames to report the caller at debug and trace.
func (l *Logger) log(callerSkip int, level Level, message string, fields []Field) {
	if level < l.config.Level {
		return
	}
	entry := Entry{
		Time:      time.Now(),
		Level:     level.String(),
		Component: l.config.Component,
		Message:   message,
	}
	if level <= DebugLevel {
		if _, file, line, ok := runtime.Caller(callerSkip); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	var line string
	if l.config.JSON {
		data, err := json.Marshal(entry)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":%q,"message":%q}`, entry.Level, entry.Message))
		}
		line = string(data)
	} else {
		line = l.format(level, entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line+"\n")
}

// format renders "time [LEVEL] component: message {k=v, ...} (caller)".
// Fields are sorted so repeated runs produce identical lines.
func (l *Logger) format(level Level, entry Entry) string {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))

	name := entry.Level
	if c, ok := levelColors[level]; ok && l.config.UseColor {
		name = c.Sprint(name)
	}
	fmt.Fprintf(&b, " [%s]", name)
	if entry.Component != "" {
		fmt.Fprintf(&b, " %s:", entry.Component)
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, entry.Fields[k])
		}
		fmt.Fprintf(&b, " {%s}", strings.Join(parts, ", "))
	}
	if entry.Caller != "" {
		fmt.Fprintf(&b, " (%s)", entry.Caller)
	}
	return b.String()
}

// Field represents a structured field in a log entry
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Any creates a field holding an arbitrary value
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err creates an error field
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

func logDefault(level Level, message string, fields []Field) {
	if defaultLogger == nil {
		// Before Initialize only warnings and errors surface.
		if level >= WarnLevel {
			fmt.Fprintf(os.Stderr, "[%s] exportsync: %s\n", level, message)
		}
		return
	}
	defaultLogger.log(3, level, message, fields)
}

func Trace(message string, fields ...Field) { logDefault(TraceLevel, message, fields) }
func Debug(message string, fields ...Field) { logDefault(DebugLevel, message, fields) }
func Info(message string, fields ...Field)  { logDefault(InfoLevel, message, fields) }
func Warn(message string, fields ...Field)  { logDefault(WarnLevel, message, fields) }
func Error(message string, fields ...Field) { logDefault(ErrorLevel, message, fields) }

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.out = w
		defaultLogger.mu.Unlock()
	}
}
