// Package serializer turns typed user values attached to a log record
// into record-safe representations before masking runs. A registry maps
// a metadata key name to a render function; Process walks a record's
// fields in order, replacing any value whose key is registered.
//
// Render functions run under a deadline, the same "bound every external
// call" discipline the teacher applied to its dispatcher steps. A render
// that misses its deadline or panics/errors never brings down the
// pipeline: its output becomes a placeholder string, and a single
// warning is reported through the caller-supplied reporting logger.
package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"structlog/pkg/record"
)

// DefaultDeadline is the per-key render deadline used when a Registry is
// constructed without an explicit one.
const DefaultDeadline = 50 * time.Millisecond

// Reporter receives a warning when a render call fails or times out.
// *structlog.Logger satisfies this, but the interface is narrow so
// serializer has no import dependency on the logger package.
type Reporter interface {
	Warn(msg string, fields ...record.Field)
}

// FailureCounter is notified every time a render call fails or times
// out, giving callers a place to wire pkg/metrics'
// structlog_serializer_failures_total counter without this package
// importing metrics directly.
type FailureCounter interface {
	IncSerializerFailures(key string)
}

// Render transforms a single metadata value into a record-safe
// representation. ctx carries the per-call deadline; a render that
// respects ctx.Done() can exit early rather than run to its own timeout.
type Render func(ctx context.Context, value any) (any, error)

// Registry maps metadata key names to Render functions.
type Registry struct {
	renders  map[string]Render
	deadline time.Duration
	failures FailureCounter
}

// NewRegistry returns an empty registry seeded with the default `err`
// renderer, using deadline (or DefaultDeadline if deadline <= 0).
func NewRegistry(deadline time.Duration) *Registry {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	r := &Registry{renders: make(map[string]Render), deadline: deadline}
	r.Register("err", RenderError)
	return r
}

// Register installs or replaces the render function for key.
func (r *Registry) Register(key string, fn Render) {
	r.renders[key] = fn
}

// SetFailureCounter wires fc to receive every render failure Process
// encounters from this point on. A nil fc (the default) disables the hook.
func (r *Registry) SetFailureCounter(fc FailureCounter) {
	r.failures = fc
}

// Process returns a copy of m with every registered key's value replaced
// by its render output, preserving key order. Keys absent from the
// registry pass through untouched. reporter may be nil, in which case
// render failures are simply swallowed into the placeholder value.
func (r *Registry) Process(ctx context.Context, m *record.Map, reporter Reporter) *record.Map {
	out := m.Clone()
	for _, key := range m.Keys() {
		fn, ok := r.renders[key]
		if !ok {
			continue
		}
		v, _ := m.Get(key)
		out.Set(key, r.renderOne(ctx, key, fn, v, reporter))
	}
	return out
}

func (r *Registry) renderOne(ctx context.Context, key string, fn Render, value any, reporter Reporter) any {
	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	callCtx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("serializer panic: %v", p)}
			}
		}()
		v, err := fn(callCtx, value)
		done <- result{v: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.reportFailure(key, reporter)
			return placeholder(key)
		}
		return res.v
	case <-callCtx.Done():
		r.reportFailure(key, reporter)
		return placeholder(key)
	}
}

func (r *Registry) reportFailure(key string, reporter Reporter) {
	if r.failures != nil {
		r.failures.IncSerializerFailures(key)
	}
	if reporter == nil {
		return
	}
	reporter.Warn("serializer render failed", record.F("key", key))
}

func placeholder(key string) string {
	return fmt.Sprintf("[SERIALIZER_ERROR: Failed to process key '%s']", key)
}

// errLike is satisfied by any error that additionally exposes a stack
// trace string, the shape pkg/errors.AppError produces.
type errLike interface {
	error
	StackTrace() string
}

// codedErr is additionally satisfied by AppError-shaped errors that
// carry a machine-readable code.
type codedErr interface {
	errLike
	ErrCode() string
}

// causeErr is satisfied by errors exposing the standard Unwrap contract.
type causeErr interface {
	Unwrap() error
}

// RenderError is the default renderer registered for the `err` key. For
// a value implementing Go's error interface it produces a record with
// fields {name, message, stack, code?, cause?}; for anything else it
// falls back to a best-effort JSON string.
func RenderError(_ context.Context, value any) (any, error) {
	err, ok := value.(error)
	if !ok {
		b, jsonErr := json.Marshal(value)
		if jsonErr != nil {
			return nil, jsonErr
		}
		return string(b), nil
	}

	out := record.NewMap()
	out.Set("name", errorName(err))
	out.Set("message", err.Error())

	stack := ""
	if sl, ok := err.(errLike); ok {
		stack = sl.StackTrace()
	}
	out.Set("stack", stack)

	if ce, ok := err.(codedErr); ok && ce.ErrCode() != "" {
		out.Set("code", ce.ErrCode())
	}
	if cu, ok := err.(causeErr); ok {
		if cause := cu.Unwrap(); cause != nil {
			out.Set("cause", cause.Error())
		}
	}
	return out, nil
}

func errorName(err error) string {
	type named interface {
		ErrName() string
	}
	if n, ok := err.(named); ok {
		return n.ErrName()
	}
	return fmt.Sprintf("%T", err)
}
