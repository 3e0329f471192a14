// Package structlog is the public entry point for the logging pipeline:
// it composes the context store, serializer registry, masking engine,
// and sanitization engine, then fans the finished record out to a fixed
// set of sinks. The stage sequencing — build record, serialize, mask,
// sanitize, dispatch — is modeled the way the teacher's
// processing.Pipeline/ProcessingStep/CompiledStep triad models a
// configurable sequence of named steps; here the sequence is fixed
// rather than YAML-authored, but the "assemble once, run per record"
// shape carries over directly.
package structlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"structlog/pkg/levels"
	"structlog/pkg/logctx"
	"structlog/pkg/masking"
	"structlog/pkg/record"
	"structlog/pkg/sanitize"
	"structlog/pkg/serializer"
	"structlog/pkg/sinklog"
)

// Config constructs a root Logger.
type Config struct {
	ServiceName       string
	Level             levels.Level
	Sinks             []sinklog.Sink
	Serializers       map[string]serializer.Render
	SerializerTimeout time.Duration
	MaskingConfig     masking.Config
	LoggingMatrix     logctx.LevelKeyFilter
	DropCounter       DropCounter                  // Prometheus hook; may be nil
	FailureCounter    serializer.FailureCounter     // Prometheus hook; may be nil
	RecordCounter     RecordCounter                 // Prometheus hook; may be nil
}

// DropCounter is notified every time a sink reports a dropped record,
// giving callers a place to wire pkg/metrics' structlog_sink_drops_total
// counter without structlog importing the metrics package directly.
type DropCounter interface {
	IncSinkDrops(sinkName string)
}

// RecordCounter is notified every time a record finishes the pipeline
// and is handed to the sinks, giving callers a place to wire
// pkg/metrics' structlog_records_emitted_total counter.
type RecordCounter interface {
	IncRecordsEmitted(level string)
}

// Logger is the public emitter. The zero value is not usable; construct
// one with New or a parent's Child.
type Logger struct {
	serviceName string

	mu       sync.RWMutex
	level    levels.Level
	sinks    []sinklog.Sink
	bindings *record.Map

	registry *serializer.Registry
	masker   *masking.Engine
	matrix   logctx.LevelKeyFilter

	dropCounter   DropCounter
	recordCounter RecordCounter
}

// New constructs a root Logger from cfg.
func New(cfg Config) *Logger {
	reg := cfg.Serializers
	registry := serializer.NewRegistry(cfg.SerializerTimeout)
	for key, fn := range reg {
		registry.Register(key, fn)
	}
	if cfg.FailureCounter != nil {
		registry.SetFailureCounter(cfg.FailureCounter)
	}
	l := &Logger{
		serviceName:   cfg.ServiceName,
		level:         cfg.Level,
		sinks:         append([]sinklog.Sink(nil), cfg.Sinks...),
		bindings:      record.NewMap(),
		registry:      registry,
		masker:        masking.NewEngine(cfg.MaskingConfig),
		matrix:        cfg.LoggingMatrix,
		dropCounter:   cfg.DropCounter,
		recordCounter: cfg.RecordCounter,
	}
	return l
}

// ReportDrop implements sinklog.DropReporter: sinks call back into the
// logger that owns them when they drop a record, so the drop can be
// surfaced both as a metric and as a rate-limited warning the way §5
// requires. The chanSink machinery already rate-limits to once/second
// per sink before calling this.
func (l *Logger) ReportDrop(sinkName string) {
	if l.dropCounter != nil {
		l.dropCounter.IncSinkDrops(sinkName)
	}
	l.emit(context.Background(), levels.Warn, record.NewMap(record.F("sink", sinkName)), "sink buffer full, dropping records", nil)
}

// SetLevel changes the logger's threshold independently of its parent or
// children.
func (l *Logger) SetLevel(level levels.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// RefreshMasking polls source for additional sensitive key names and
// adds them to the masking engine shared by this logger and all its
// children. Rules only ever accumulate; source is typically a
// pkg/secrets.MultiManager polled on its own schedule by the caller.
func (l *Logger) RefreshMasking(source masking.RuleSource) {
	l.masker.RefreshFrom(source)
}

func (l *Logger) currentLevel() levels.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Child returns a new Logger sharing this logger's sinks, serializer
// registry, masking engine, sanitization pass, and context store
// semantics; its bindings are this logger's bindings merged with
// bindings (new keys win on collision). Level is inherited at creation
// time and may be changed independently afterward.
func (l *Logger) Child(bindings ...record.Field) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		serviceName:   l.serviceName,
		level:         l.level,
		sinks:         l.sinks,
		bindings:      l.bindings.Merge(record.NewMap(bindings...)),
		registry:      l.registry,
		masker:        l.masker,
		matrix:        l.matrix,
		dropCounter:   l.dropCounter,
		recordCounter: l.recordCounter,
	}
}

// WithSource is child({source: name}).
func (l *Logger) WithSource(name string) *Logger {
	return l.Child(record.F("source", name))
}

// WithTransactionID is child({transactionId: id}).
func (l *Logger) WithTransactionID(id string) *Logger {
	return l.Child(record.F("transactionId", id))
}

// WithRetention is child({retention: rules}).
func (l *Logger) WithRetention(rules any) *Logger {
	return l.Child(record.F("retention", rules))
}

// --- Public log methods -----------------------------------------------

func (l *Logger) Trace(msg string, fields ...record.Field) { l.logMsg(levels.Trace, msg, fields) }
func (l *Logger) Debug(msg string, fields ...record.Field) { l.logMsg(levels.Debug, msg, fields) }
func (l *Logger) Info(msg string, fields ...record.Field)  { l.logMsg(levels.Info, msg, fields) }
func (l *Logger) Warn(msg string, fields ...record.Field)  { l.logMsg(levels.Warn, msg, fields) }
func (l *Logger) Error(msg string, fields ...record.Field) { l.logMsg(levels.Error, msg, fields) }
func (l *Logger) Fatal(msg string, fields ...record.Field) { l.logMsg(levels.Fatal, msg, fields) }
func (l *Logger) Audit(msg string, fields ...record.Field) { l.logMsg(levels.Audit, msg, fields) }

// Tracef, Debugf, etc. take a printf-style format string and substitute
// args in place of %s/%d/%f/%j placeholders before logging the result as
// the message, with no additional metadata fields.
func (l *Logger) Tracef(format string, args ...any) { l.logf(levels.Trace, format, args) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(levels.Debug, format, args) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(levels.Info, format, args) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(levels.Warn, format, args) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(levels.Error, format, args) }
func (l *Logger) Fatalf(format string, args ...any) { l.logf(levels.Fatal, format, args) }

func (l *Logger) logMsg(level levels.Level, msg string, fields []record.Field) {
	l.emit(context.Background(), level, record.NewMap(fields...), msg, nil)
}

func (l *Logger) logf(level levels.Level, format string, args []any) {
	msg := Sprintf(format, args...)
	l.emit(context.Background(), level, record.NewMap(), msg, nil)
}

// The *Ctx variants thread a context.Context carrying a logctx frame
// through to the pipeline, so correlation/transaction ids and other
// scoped context values flow into the record (spec §4.7 step 2).
func (l *Logger) InfoCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Info, record.NewMap(fields...), msg, nil)
}
func (l *Logger) WarnCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Warn, record.NewMap(fields...), msg, nil)
}
func (l *Logger) ErrorCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Error, record.NewMap(fields...), msg, nil)
}
func (l *Logger) DebugCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Debug, record.NewMap(fields...), msg, nil)
}
func (l *Logger) TraceCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Trace, record.NewMap(fields...), msg, nil)
}
func (l *Logger) AuditCtx(ctx context.Context, msg string, fields ...record.Field) {
	l.emit(ctx, levels.Audit, record.NewMap(fields...), msg, nil)
}

// --- Pipeline -----------------------------------------------------------

// emit runs the full assembly pipeline described in spec §4.7. failSrc,
// when non-nil, is the original failure being reported by reportFailure's
// call back into emit; it exists purely to let reportFailure detect and
// break reentrancy.
func (l *Logger) emit(ctx context.Context, level levels.Level, metadata *record.Map, message string, failSrc error) {
	defer func() {
		if p := recover(); p != nil {
			l.reportFailure(fmt.Errorf("panic in log pipeline: %v", p), failSrc != nil)
		}
	}()

	if !levels.IsEnabled(level, l.currentLevel()) {
		return
	}

	l.mu.RLock()
	sinks := l.sinks
	bindings := l.bindings
	registry := l.registry
	masker := l.masker
	matrix := l.matrix
	service := l.serviceName
	l.mu.RUnlock()

	filteredCtx := logctx.GetFilteredContext(ctx, level.String(), matrix)
	rec := bindings.Merge(record.NewMap(fieldsFromMap(filteredCtx)...)).Merge(metadata)

	rec.Set(record.KeyLevel, level.String())
	rec.Set(record.KeyTimestamp, time.Now().UTC().Format(time.RFC3339Nano))
	rec.Set(record.KeyService, service)
	rec.Set(record.KeyMessage, message)

	rec = registry.Process(ctx, rec, reporterFunc(func(msg string, fields ...record.Field) {
		l.Warn(msg, fields...)
	}))
	rec = masker.Mask(rec)
	rec = sanitize.Sanitize(rec)

	delivered := false
	for _, sink := range sinks {
		func(s sinklog.Sink) {
			defer func() {
				if p := recover(); p != nil {
					l.reportFailure(fmt.Errorf("sink panic: %v", p), failSrc != nil)
				}
			}()
			if levels.IsEnabled(level, s.Level()) {
				s.Log(rec, level)
				delivered = true
			}
		}(sink)
	}
	if delivered && l.recordCounter != nil {
		l.recordCounter.IncRecordsEmitted(level.String())
	}
}

// reportFailure implements the reentrant-error guard from spec §4.7 and
// §7: a failure is normally reported via Warn on this same logger, but a
// failure that occurs while already reporting a failure is written
// directly to stderr and dropped, never recursing back into emit.
func (l *Logger) reportFailure(err error, alreadyReporting bool) {
	if alreadyReporting {
		fmt.Fprintf(os.Stderr, "structlog: reentrant pipeline failure dropped: %v\n", err)
		return
	}
	l.emit(context.Background(), levels.Warn, record.NewMap(record.F("err", err.Error())), "log pipeline failure", err)
}

type reporterFunc func(msg string, fields ...record.Field)

func (f reporterFunc) Warn(msg string, fields ...record.Field) { f(msg, fields...) }

func fieldsFromMap(m map[string]any) []record.Field {
	out := make([]record.Field, 0, len(m))
	for k, v := range m {
		out = append(out, record.F(k, v))
	}
	return out
}

// Sprintf implements the spec's printf-style substitution, including the
// non-standard %j verb (render the argument as JSON) alongside the
// familiar %s/%d/%f.
func Sprintf(format string, args ...any) string {
	var b strings.Builder
	argIdx := 0
	next := func() any {
		if argIdx < len(args) {
			v := args[argIdx]
			argIdx++
			return v
		}
		return nil
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			b.WriteByte(c)
			continue
		}
		verb := format[i+1]
		switch verb {
		case 's':
			b.WriteString(fmt.Sprintf("%v", next()))
		case 'd':
			b.WriteString(fmt.Sprintf("%d", toInt(next())))
		case 'f':
			b.WriteString(strconv.FormatFloat(toFloat(next()), 'f', -1, 64))
		case 'j':
			b.WriteString(toJSON(next()))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(verb)
		}
		i++
	}
	return b.String()
}

func toInt(v any) int64 {
	switch tv := v.(type) {
	case int:
		return int64(tv)
	case int64:
		return tv
	case float64:
		return int64(tv)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch tv := v.(type) {
	case float64:
		return tv
	case float32:
		return float64(tv)
	case int:
		return float64(tv)
	default:
		return 0
	}
}

func toJSON(v any) string {
	switch tv := v.(type) {
	case bool:
		return strconv.FormatBool(tv)
	case string:
		return strconv.Quote(tv)
	default:
		if b, err := json.Marshal(tv); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", tv)
	}
}
