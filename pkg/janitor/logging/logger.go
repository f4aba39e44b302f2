// Package logging provides structured logging with consistent field
// formatting on top of klog, used throughout the janitor instead of bare
// log.Printf calls.
package logging

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Logger logs structured key/value fields through klog.
type Logger struct {
	fields map[string]interface{}
}

// Field is a single key/value pair attached to a Logger.
type Field struct {
	Key   string
	Value interface{}
}

// New creates an empty Logger.
func New() *Logger {
	return &Logger{fields: make(map[string]interface{})}
}

// WithFields returns a new Logger with additional fields merged in.
func (l *Logger) WithFields(fields ...Field) *Logger {
	next := &Logger{fields: make(map[string]interface{}, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

// WithField returns a new Logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field{Key: key, Value: value})
}

// WithResource adds kind/namespace/name fields identifying a resource.
func (l *Logger) WithResource(kind, namespace, name string) *Logger {
	return l.WithFields(
		Field{Key: "kind", Value: kind},
		Field{Key: "namespace", Value: namespace},
		Field{Key: "name", Value: name},
	)
}

// WithRule adds a rule_id field.
func (l *Logger) WithRule(id string) *Logger {
	return l.WithField("rule_id", id)
}

// WithError adds an error field. A nil error is a no-op.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Info logs msg at info level with the accumulated fields.
func (l *Logger) Info(msg string) {
	klog.InfoS(msg, l.args()...)
}

// Infof formats msg and logs it at info level.
func (l *Logger) Infof(format string, a ...interface{}) {
	klog.InfoS(fmt.Sprintf(format, a...), l.args()...)
}

// Error logs msg at error level with the accumulated fields.
func (l *Logger) Error(msg string) {
	klog.ErrorS(nil, msg, l.args()...)
}

// Errorf formats msg and logs it at error level.
func (l *Logger) Errorf(format string, a ...interface{}) {
	klog.ErrorS(nil, fmt.Sprintf(format, a...), l.args()...)
}

// V returns a verbosity-gated logger, mirroring klog.V semantics.
func (l *Logger) V(level int) VerboseLogger {
	return VerboseLogger{logger: l, level: clampLevel(level)}
}

func (l *Logger) args() []interface{} {
	args := make([]interface{}, 0, len(l.fields)*2)
	for k, v := range l.fields {
		args = append(args, k, v)
	}
	return args
}

// VerboseLogger logs only when klog's verbosity threshold permits it.
type VerboseLogger struct {
	logger *Logger
	level  klog.Level
}

func clampLevel(level int) klog.Level {
	if level < 0 {
		level = 0
	} else if level > 10 {
		level = 10
	}
	return klog.Level(level)
}

// Info logs msg at this logger's verbosity level.
func (vl VerboseLogger) Info(msg string) {
	klog.V(vl.level).InfoS(msg, vl.logger.args()...)
}

// Infof formats msg and logs it at this logger's verbosity level.
func (vl VerboseLogger) Infof(format string, a ...interface{}) {
	klog.V(vl.level).InfoS(fmt.Sprintf(format, a...), vl.logger.args()...)
}
