// Package levels defines the severity model shared by every stage of the
// logging pipeline: a totally ordered set of weighted labels plus a
// sentinel that disables all output and an audit label that bypasses
// threshold comparison entirely.
package levels

import (
	"fmt"
	"strings"
)

// Level is a severity label with a fixed, strictly increasing weight.
type Level int

// The ordered set of severities, from least to most severe. Silent is a
// sentinel that compares greater than every real level: a logger at
// Silent never emits, regardless of the level of the call, including
// Audit. Audit compares equal to Info for threshold purposes, but the
// emitter short-circuits the comparison so audit records are always
// written — see IsEnabled.
const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Fatal
	Audit
	Silent
)

var names = map[Level]string{
	Trace:  "trace",
	Debug:  "debug",
	Info:   "info",
	Warn:   "warn",
	Error:  "error",
	Fatal:  "fatal",
	Audit:  "audit",
	Silent: "silent",
}

var byName = map[string]Level{
	"trace":  Trace,
	"debug":  Debug,
	"info":   Info,
	"warn":   Warn,
	"error":  Error,
	"fatal":  Fatal,
	"audit":  Audit,
	"silent": Silent,
}

// weight is the value used for threshold comparisons. Audit is pinned to
// Info's weight so that, absent the emitter's bypass, it behaves like an
// info-level record; Silent's weight exceeds every other level so no
// record ever satisfies a Silent threshold.
func (l Level) weight() int {
	if l == Audit {
		return int(Info)
	}
	return int(l)
}

// String returns the label's canonical lowercase name.
func (l Level) String() string {
	if name, ok := names[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// MarshalJSON renders the level as its string label.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Parse resolves a label (case-insensitive) into its Level, or returns an
// error naming the unrecognized label. Configuration code should treat a
// Parse error as a user error (spec §7): fail construction, don't guess.
func Parse(label string) (Level, error) {
	if lvl, ok := byName[strings.ToLower(label)]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("levels: unrecognized level label %q", label)
}

// IsEnabled reports whether a record at level l should be emitted by a
// logger gated at threshold. Audit always passes unless threshold itself
// is Silent, in which case nothing passes — the sentinel wins over the
// audit bypass.
func IsEnabled(l, threshold Level) bool {
	if threshold == Silent {
		return false
	}
	if l == Audit {
		return true
	}
	return l.weight() >= threshold.weight()
}
