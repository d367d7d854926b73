// Package logging provides structured, trace-scoped logging for every
// retrieval component that logs: the vector store adapter, embedder, LLM
// client, query analyser, reranker and orchestrator all take a Logger at
// construction time instead of reaching for a global.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogLevel orders the five severities from most to least verbose.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (lv LogLevel) String() string {
	switch lv {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a config string onto a LogLevel, defaulting to INFO
// for anything unrecognised.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// traceIDKey is the context key WithTraceID/GetTraceID use to thread a
// request's trace id through a call chain without passing it as an
// explicit parameter everywhere.
type traceIDKey struct{}

// Logger is what every retrieval component depends on instead of the
// standard library's log package, so that stages can be traced by
// session id and filtered by component and severity uniformly.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})
	DebugContext(ctx context.Context, msg string, fields ...interface{})

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// entry is one structured log line.
type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger writes JSON (or, if disabled, single-line text) log
// entries to stdout, gated by a minimum severity.
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	json      bool
}

// NewLogger builds a StructuredLogger at the given minimum level. JSON
// output is controlled by LOG_JSON (default on).
func NewLogger(level LogLevel) Logger {
	return &StructuredLogger{level: level, json: envBool("LOG_JSON", true)}
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	clone := *l
	clone.traceID = traceID
	return &clone
}

func (l *StructuredLogger) WithComponent(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StructuredLogger) Info(msg string, fields ...interface{})  { l.emit(INFO, "", msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields ...interface{})  { l.emit(WARN, "", msg, fields) }
func (l *StructuredLogger) Error(msg string, fields ...interface{}) { l.emit(ERROR, "", msg, fields) }
func (l *StructuredLogger) Debug(msg string, fields ...interface{}) { l.emit(DEBUG, "", msg, fields) }

func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.emit(FATAL, "", msg, fields)
	os.Exit(1)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.emit(INFO, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.emit(WARN, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.emit(ERROR, GetTraceID(ctx), msg, fields)
}

func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	l.emit(DEBUG, GetTraceID(ctx), msg, fields)
}

// emit builds and writes one log line if level clears the logger's
// minimum severity. contextTraceID, when non-empty, overrides the trace
// id the logger was constructed with.
func (l *StructuredLogger) emit(level LogLevel, contextTraceID, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	traceID := l.traceID
	if contextTraceID != "" {
		traceID = contextTraceID
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Caller:    callerFile(3),
		Fields:    fieldsToMap(fields),
	}

	if l.json {
		writeJSON(e)
	} else {
		writeText(e)
	}
}

func callerFile(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// fieldsToMap pairs up the variadic key/value arguments every log call
// accepts, tolerating a trailing unpaired value.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		if i+1 < len(fields) {
			out[key] = fields[i+1]
		} else {
			out[key] = nil
		}
	}
	return out
}

func writeJSON(e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: marshal failed: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func writeText(e entry) {
	parts := []string{e.Timestamp, "[" + e.Level + "]"}
	if e.TraceID != "" {
		id := e.TraceID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, "trace:"+id)
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	parts = append(parts, e.Message)
	for k, v := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if e.Caller != "" {
		parts = append(parts, "("+e.Caller+")")
	}
	fmt.Println(strings.Join(parts, " "))
}

// GenerateTraceID returns a fresh random trace id for a new request.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches traceID to ctx, generating one if empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID reads the trace id WithTraceID attached, or "" if none.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// WithSessionID attaches sessionID as the logger's trace id, so every
// line emitted while serving one request can be grepped by session
// without threading a context value through each pipeline stage.
func WithSessionID(l Logger, sessionID string) Logger {
	if sessionID == "" {
		return l
	}
	return l.WithTraceID(sessionID)
}
