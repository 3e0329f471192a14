// Package masking applies redaction rules to a record tree, producing a
// new tree with sensitive fields replaced. Rule seeding is grounded on
// the teacher's security.Sanitizer pattern table (bearer tokens, API
// keys, AWS credentials, password/secret/token fields); the engine
// itself generalizes that fixed table into a runtime-extensible rule
// set, additive only, matching the spec's security property that rules
// may grow but never shrink.
package masking

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"structlog/pkg/record"
)

// Strategy computes the masked replacement for a matched value.
type Strategy int

const (
	// StrategyFull replaces the value with the configured mask string.
	StrategyFull Strategy = iota
	// StrategyPartial keeps the last N characters of the stringified
	// value, prefixed by the mask string.
	StrategyPartial
	// StrategyPreserveLength replaces the value with the mask string's
	// first character repeated to the original stringified length.
	StrategyPreserveLength
)

// DefaultMask is the mask string used when a Rule doesn't override it.
const DefaultMask = "******"

// Rule matches a key, by literal equality or by pattern, and describes
// how to mask the value found under it. Patterns run on Go's regexp
// package (RE2: no backtracking, time linear in the key's length); no
// per-match deadline is applied, so a pattern's cost is the caller's
// responsibility.
type Rule struct {
	Key      string         // literal key match; empty if Pattern is set
	Pattern  *regexp.Regexp // pattern key match; nil if Key is set
	Strategy Strategy
	Mask     string // defaults to DefaultMask if empty
	KeepN    int    // significant for StrategyPartial
}

func (r Rule) mask() string {
	if r.Mask != "" {
		return r.Mask
	}
	return DefaultMask
}

func (r Rule) matches(key string) bool {
	if r.Pattern != nil {
		return r.Pattern.MatchString(key)
	}
	return strings.EqualFold(r.Key, key)
}

// apply renders the masked replacement for value per the rule's strategy.
func (r Rule) apply(value any) any {
	s := stringify(value)
	switch r.Strategy {
	case StrategyPartial:
		n := r.KeepN
		if n > len(s) {
			n = len(s)
		}
		if n < 0 {
			n = 0
		}
		return r.mask() + s[len(s)-n:]
	case StrategyPreserveLength:
		c := r.mask()
		if c == "" {
			c = "*"
		}
		n := len(s)
		if n < 1 {
			n = 1
		}
		return strings.Repeat(string(c[0]), n)
	default:
		return r.mask()
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return toString(value)
}

// RuleSource supplies additional literal sensitive key names discovered
// at runtime, e.g. from pkg/secrets's environment-backed lookup. Engine
// polls sources rather than holding a reference back into their
// internals, keeping the dependency one-directional.
type RuleSource interface {
	SensitiveKeys() []string
}

// Config seeds an Engine.
type Config struct {
	Rules    []Rule
	MaxDepth int // default 5 if <= 0
}

// Engine walks record trees and replaces values matched by its rule set.
// Safe for concurrent use; AddRule/AddKeys may be called while Mask runs
// concurrently on other goroutines.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	seen     map[string]struct{} // literal keys already added, for dedup
	maxDepth int
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = 5
	}
	e := &Engine{maxDepth: depth, seen: make(map[string]struct{})}
	for _, r := range cfg.Rules {
		e.AddRule(r)
	}
	return e
}

// AddRule adds a rule at runtime. Duplicate literal-key rules (same key,
// case-insensitive) are silently ignored — rules are additive only and
// never removed, a security property of the engine.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.Pattern == nil {
		norm := strings.ToLower(r.Key)
		if _, dup := e.seen[norm]; dup {
			return
		}
		e.seen[norm] = struct{}{}
	}
	e.rules = append(e.rules, r)
}

// AddKeys adds full-mask literal-key rules for each name not already
// configured. Used to ingest keys discovered via a RuleSource.
func (e *Engine) AddKeys(keys ...string) {
	for _, k := range keys {
		e.AddRule(Rule{Key: k, Strategy: StrategyFull})
	}
}

// RefreshFrom polls source and adds any sensitive keys it reports that
// aren't already configured.
func (e *Engine) RefreshFrom(source RuleSource) {
	if source == nil {
		return
	}
	e.AddKeys(source.SensitiveKeys()...)
}

func (e *Engine) matchRule(key string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.matches(key) {
			return r, true
		}
	}
	return Rule{}, false
}

func (e *Engine) literalKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.seen))
	for k := range e.seen {
		out = append(out, k)
	}
	return out
}

// Mask returns a new record.Map with sensitive fields replaced. visited
// tracks nodes already visited on the current path for cycle detection.
func (e *Engine) Mask(m *record.Map) *record.Map {
	return e.maskMap(m, 0, make(map[*record.Map]bool))
}

func (e *Engine) maskMap(m *record.Map, depth int, visited map[*record.Map]bool) *record.Map {
	if m == nil {
		return nil
	}
	if visited[m] {
		return record.NewMap(record.F("_circular", true))
	}
	if depth >= e.maxDepth {
		return m
	}
	visited[m] = true
	defer delete(visited, m)

	out := record.NewMap()
	for _, key := range m.Keys() {
		v, _ := m.Get(key)
		if rule, ok := e.matchRule(key); ok {
			out.Set(key, rule.apply(v))
			continue
		}
		out.Set(key, e.maskValue(v, depth+1, visited))
	}
	return out
}

func (e *Engine) maskValue(v any, depth int, visited map[*record.Map]bool) any {
	switch tv := v.(type) {
	case *record.Map:
		return e.maskMap(tv, depth, visited)
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = e.maskValue(elem, depth, visited)
		}
		return out
	case string:
		return e.maskURLSegments(tv)
	default:
		return v
	}
}

// maskURLSegments implements §4.4 step 3: for a string containing
// `/`-separated segments, whenever a segment's lowercased value equals a
// configured literal sensitive key name, the following segment is
// replaced with that rule's mask. Pattern rules never apply here.
func (e *Engine) maskURLSegments(s string) string {
	if !strings.Contains(s, "/") {
		return s
	}
	parts := strings.Split(s, "/")
	changed := false
	for i := 0; i < len(parts)-1; i++ {
		rule, ok := e.matchLiteralSegment(parts[i])
		if !ok {
			continue
		}
		parts[i+1] = rule.mask()
		changed = true
	}
	if !changed {
		return s
	}
	return strings.Join(parts, "/")
}

func (e *Engine) matchLiteralSegment(segment string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Pattern != nil {
			continue
		}
		if strings.EqualFold(r.Key, segment) {
			return r, true
		}
	}
	return Rule{}, false
}

func toString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	default:
		return fmt.Sprintf("%v", tv)
	}
}
