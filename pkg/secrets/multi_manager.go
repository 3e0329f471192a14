// Package secrets supplies additional sensitive-field *names* to the
// masking engine at runtime, adapted from the teacher's
// MultiSecretsManager: where the teacher fetched secret *values* from a
// pluggable multi-backend store (env, Vault, AWS, Kubernetes) with
// caching, fallback ordering, and rotation, this package keeps that
// multi-backend, cached, fallback-ordered shape but repurposes it to
// answer "what additional keys should be masked" instead — it implements
// masking.RuleSource. Only the env-var backend is concretely
// implemented; Vault/AWS/Kubernetes remain extension points, matching
// the teacher's own stub state for those backends.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Backend discovers sensitive key names from one source.
type Backend interface {
	// Discover returns the sensitive key names currently known to this
	// backend.
	Discover(ctx context.Context) ([]string, error)
	Name() string
}

// BackendConfig configures one backend instance.
type BackendConfig struct {
	Type    string // "env", "vault", "aws", "k8s"
	Enabled bool
	Options map[string]string
}

// Config seeds a MultiManager.
type Config struct {
	Backends         []BackendConfig
	FallbackOrder    []string // backend names tried in order; empty = all
	CacheTTL         time.Duration
	RotationEnabled  bool
	RotationInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = 10 * time.Minute
	}
}

// MultiManager polls a set of backends and caches their combined result,
// satisfying masking.RuleSource.
type MultiManager struct {
	config   Config
	backends map[string]Backend

	mu        sync.RWMutex
	cached    []string
	cachedAt  time.Time
}

// NewMultiManager constructs backends from cfg and returns a ready
// MultiManager. Unknown backend types are skipped (they're extension
// points, not errors).
func NewMultiManager(cfg Config) *MultiManager {
	cfg.applyDefaults()
	m := &MultiManager{config: cfg, backends: make(map[string]Backend)}
	for _, bc := range cfg.Backends {
		if !bc.Enabled {
			continue
		}
		if b := createBackend(bc); b != nil {
			m.backends[b.Name()] = b
		}
	}
	return m
}

func createBackend(bc BackendConfig) Backend {
	switch bc.Type {
	case "env":
		return NewEnvBackend(bc.Options)
	case "vault":
		return newStubBackend("vault")
	case "aws":
		return newStubBackend("aws")
	case "k8s":
		return newStubBackend("k8s")
	default:
		return nil
	}
}

// SensitiveKeys implements masking.RuleSource. It returns the cached
// result if still fresh, refreshing from all configured backends
// otherwise. Errors from individual backends are swallowed — a
// misbehaving backend should never block masking.
func (m *MultiManager) SensitiveKeys() []string {
	m.mu.RLock()
	fresh := time.Since(m.cachedAt) < m.config.CacheTTL
	cached := m.cached
	m.mu.RUnlock()
	if fresh {
		return cached
	}
	return m.Refresh(context.Background())
}

// Refresh polls every backend (in FallbackOrder if set, otherwise
// registration order) and merges their results, deduplicating.
func (m *MultiManager) Refresh(ctx context.Context) []string {
	order := m.order()
	seen := make(map[string]struct{})
	var out []string
	for _, name := range order {
		b, ok := m.backends[name]
		if !ok {
			continue
		}
		keys, err := b.Discover(ctx)
		if err != nil {
			continue
		}
		for _, k := range keys {
			norm := strings.ToLower(k)
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			out = append(out, k)
		}
	}
	m.mu.Lock()
	m.cached = out
	m.cachedAt = time.Now()
	m.mu.Unlock()
	return out
}

func (m *MultiManager) order() []string {
	if len(m.config.FallbackOrder) > 0 {
		return m.config.FallbackOrder
	}
	out := make([]string, 0, len(m.backends))
	added := make(map[string]bool, len(m.backends))
	for _, bc := range m.config.Backends {
		if _, ok := m.backends[bc.Type]; ok && !added[bc.Type] {
			added[bc.Type] = true
			out = append(out, bc.Type)
		}
	}
	return out
}

// EnvBackend discovers sensitive key names from environment variables
// whose name starts with prefix (default "SECRET_"): the variable's
// value, as written, is treated as a field name the masking engine
// should redact, letting an operator extend masking without a code
// change or a restart beyond the refresh interval.
type EnvBackend struct {
	prefix string
}

// NewEnvBackend constructs an EnvBackend. options["prefix"] overrides
// the default "SECRET_".
func NewEnvBackend(options map[string]string) *EnvBackend {
	prefix := options["prefix"]
	if prefix == "" {
		prefix = "SECRET_"
	}
	return &EnvBackend{prefix: prefix}
}

func (b *EnvBackend) Name() string { return "env" }

func (b *EnvBackend) Discover(ctx context.Context) ([]string, error) {
	var out []string
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, b.prefix) {
			continue
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// stubBackend represents a not-yet-implemented backend (Vault, AWS
// Secrets Manager, Kubernetes secrets). It reports no keys and a
// descriptive error, matching the teacher's own stub backends for these
// providers — a concrete implementation is future work, not a design gap.
type stubBackend struct{ name string }

func newStubBackend(name string) *stubBackend { return &stubBackend{name: name} }

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Discover(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("secrets: backend %q not implemented", b.name)
}
