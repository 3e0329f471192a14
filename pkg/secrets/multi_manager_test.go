package secrets

import (
	"os"
	"testing"
	"time"
)

func TestEnvBackendDiscoversPrefixedValues(t *testing.T) {
	os.Setenv("SECRET_FIELD_ONE", "customToken")
	os.Setenv("SECRET_FIELD_TWO", "internalId")
	os.Setenv("UNRELATED", "ignored")
	defer os.Unsetenv("SECRET_FIELD_ONE")
	defer os.Unsetenv("SECRET_FIELD_TWO")
	defer os.Unsetenv("UNRELATED")

	b := NewEnvBackend(nil)
	keys, err := b.Discover(nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["customToken"] || !found["internalId"] {
		t.Fatalf("keys = %v, missing expected entries", keys)
	}
	if found["ignored"] {
		t.Fatal("unrelated env var leaked into discovered keys")
	}
}

func TestMultiManagerMergesAndDedupes(t *testing.T) {
	os.Setenv("SECRET_A", "dup")
	os.Setenv("SECRET_B", "DUP")
	defer os.Unsetenv("SECRET_A")
	defer os.Unsetenv("SECRET_B")

	m := NewMultiManager(Config{
		Backends: []BackendConfig{{Type: "env", Enabled: true}},
	})
	keys := m.SensitiveKeys()
	count := 0
	for _, k := range keys {
		if k == "dup" || k == "DUP" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected case-insensitive dedup, got %d matches in %v", count, keys)
	}
}

func TestMultiManagerCachesWithinTTL(t *testing.T) {
	m := NewMultiManager(Config{
		Backends: []BackendConfig{{Type: "env", Enabled: true}},
		CacheTTL: time.Hour,
	})
	first := m.SensitiveKeys()
	os.Setenv("SECRET_NEW", "shouldNotAppearYet")
	defer os.Unsetenv("SECRET_NEW")
	second := m.SensitiveKeys()
	if len(first) != len(second) {
		t.Fatalf("cached result changed within TTL: %v -> %v", first, second)
	}
}

func TestStubBackendsReportNotImplemented(t *testing.T) {
	m := NewMultiManager(Config{
		Backends: []BackendConfig{{Type: "vault", Enabled: true}},
	})
	// A failing backend must not crash SensitiveKeys; it just
	// contributes nothing.
	keys := m.SensitiveKeys()
	if keys != nil {
		t.Fatalf("expected no keys from an unimplemented backend, got %v", keys)
	}
}
