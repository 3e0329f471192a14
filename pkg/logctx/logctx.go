// Package logctx carries a per-task key/value frame across goroutine
// boundaries. Go has no task-local storage, so the frame rides inside a
// context.Context value, the idiomatic stand-in for "ambient state bound
// to the current unit of work." RunScoped derives a child context that
// holds a fresh frame; code that receives that derived context (or any
// further child of it) reads and writes the same frame, while code that
// only captured the parent context never observes the child's writes.
//
// The frame itself is copy-on-write, the same technique the teacher used
// for its label set: a frame created by a nested RunScoped call shares
// its parent's backing store until the first write, at which point it
// copies. This keeps the common case (read-only nested scopes) free of
// allocation while still giving each scope an isolated view on write.
package logctx

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type ctxKey struct{}

var frameKey ctxKey

// frame is the copy-on-write key/value store for one scope.
type frame struct {
	mu       sync.RWMutex
	data     map[string]any
	readonly bool // true for a forked frame until its own first write; false for a fresh frame
}

func newFrame(initial map[string]any) *frame {
	f := &frame{data: make(map[string]any, len(initial)), readonly: false}
	for k, v := range initial {
		f.data[k] = v
	}
	return f
}

// fork returns a child frame that shares this frame's backing map until
// the child's first write, at which point the child copies the map
// before mutating it. The parent is never mutated by the child.
func (f *frame) fork() *frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &frame{data: f.data, readonly: true}
}

func (f *frame) get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *frame) getAll() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}

func (f *frame) set(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyOnWriteLocked()
	f.data[key] = value
}

// copyOnWriteLocked must be called with f.mu held for writing.
func (f *frame) copyOnWriteLocked() {
	if !f.readonly {
		return
	}
	data := make(map[string]any, len(f.data)+4)
	for k, v := range f.data {
		data[k] = v
	}
	f.data = data
	f.readonly = false
}

// RunScoped runs body with a context carrying a frame seeded from
// initial. If ctx already carries a frame, the new frame is forked from
// it (copy-on-write snapshot) so mutations inside body never escape to
// the outer scope; otherwise a fresh frame is created from initial.
// When body returns, the derived frame goes out of scope along with the
// context that carried it — "tearing down" happens simply because
// nothing references it anymore.
func RunScoped(ctx context.Context, initial map[string]any, body func(context.Context)) {
	body(newScope(ctx, initial))
}

func newScope(ctx context.Context, initial map[string]any) context.Context {
	if parent, ok := ctx.Value(frameKey).(*frame); ok {
		child := parent.fork()
		for k, v := range initial {
			child.set(k, v)
		}
		return context.WithValue(ctx, frameKey, child)
	}
	return context.WithValue(ctx, frameKey, newFrame(initial))
}

// WithScope is the non-callback form of RunScoped, for call sites that
// need the derived context itself rather than a body closure (e.g.
// framework middleware establishing a per-request scope).
func WithScope(ctx context.Context, initial map[string]any) context.Context {
	return newScope(ctx, initial)
}

func currentFrame(ctx context.Context) (*frame, bool) {
	f, ok := ctx.Value(frameKey).(*frame)
	return f, ok
}

// Get reads key from the current frame. Called outside any scope, it
// returns (nil, false) rather than failing — library code may log before
// a scope exists.
func Get(ctx context.Context, key string) (any, bool) {
	f, ok := currentFrame(ctx)
	if !ok {
		return nil, false
	}
	return f.get(key)
}

// Set writes key into the current frame. Called outside any scope, the
// write is silently dropped.
func Set(ctx context.Context, key string, value any) {
	f, ok := currentFrame(ctx)
	if !ok {
		return
	}
	f.set(key, value)
}

// GetAll returns a snapshot copy of every key in the current frame, or
// an empty map outside any scope.
func GetAll(ctx context.Context) map[string]any {
	f, ok := currentFrame(ctx)
	if !ok {
		return map[string]any{}
	}
	return f.getAll()
}

// Well-known frame keys backing the correlation/transaction convenience
// accessors. These in-process keys are fixed and differ from the wire
// header names (x-correlation-id and similar); transports translate
// between the two at the boundary.
const (
	KeyCorrelationID = "correlationId"
	KeyTransactionID = "transactionId"
)

// GetCorrelationID returns the current frame's correlation id, or "" if
// unset or outside any scope.
func GetCorrelationID(ctx context.Context) string {
	return getString(ctx, KeyCorrelationID)
}

// SetCorrelationID sets the current frame's correlation id.
func SetCorrelationID(ctx context.Context, id string) {
	Set(ctx, KeyCorrelationID, id)
}

// GetTransactionID returns the current frame's transaction id, or "" if
// unset or outside any scope.
func GetTransactionID(ctx context.Context) string {
	return getString(ctx, KeyTransactionID)
}

// SetTransactionID sets the current frame's transaction id.
func SetTransactionID(ctx context.Context, id string) {
	Set(ctx, KeyTransactionID, id)
}

// NewID generates a fresh identifier suitable for a correlation or
// transaction id when the caller has none to propagate.
func NewID() string {
	return uuid.NewString()
}

func getString(ctx context.Context, key string) string {
	v, ok := Get(ctx, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// LevelKeyFilter maps a level name to the list of context keys permitted
// to flow into a record emitted at that level. A level absent from the
// map imposes no restriction — every context key flows through, which is
// also the behavior when no filter is configured at all.
type LevelKeyFilter map[string][]string

// GetFilteredContext returns the subset of the current frame's keys
// permitted for levelName under filter. A nil filter, or a levelName
// absent from it, passes every key through unfiltered.
func GetFilteredContext(ctx context.Context, levelName string, filter LevelKeyFilter) map[string]any {
	all := GetAll(ctx)
	if filter == nil {
		return all
	}
	allowed, restricted := filter[levelName]
	if !restricted {
		return all
	}
	out := make(map[string]any, len(allowed))
	for _, k := range allowed {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}
