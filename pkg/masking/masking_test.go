package masking

import "testing"

import "structlog/pkg/record"

func newTestEngine() *Engine {
	return NewEngine(Config{
		Rules: []Rule{
			{Key: "password", Strategy: StrategyFull},
			{Key: "cardNumber", Strategy: StrategyPartial, KeepN: 4},
			{Key: "ssn", Strategy: StrategyPreserveLength, Mask: "*"},
		},
		MaxDepth: 5,
	})
}

func TestMaskFullStrategy(t *testing.T) {
	e := newTestEngine()
	m := record.NewMap(record.F("password", "hunter2"))
	out := e.Mask(m)
	if v, _ := out.Get("password"); v != DefaultMask {
		t.Fatalf("password = %v, want %v", v, DefaultMask)
	}
}

func TestMaskPartialStrategy(t *testing.T) {
	e := newTestEngine()
	m := record.NewMap(record.F("cardNumber", "4111111111111234"))
	out := e.Mask(m)
	v, _ := out.Get("cardNumber")
	if v != DefaultMask+"1234" {
		t.Fatalf("cardNumber = %v, want %s1234", v, DefaultMask)
	}
}

func TestMaskPreserveLengthStrategy(t *testing.T) {
	e := newTestEngine()
	m := record.NewMap(record.F("ssn", "123456789"))
	out := e.Mask(m)
	if v, _ := out.Get("ssn"); v != "*********" {
		t.Fatalf("ssn = %v, want 9 asterisks", v)
	}
}

func TestMaskRecursesIntoNestedMaps(t *testing.T) {
	e := newTestEngine()
	inner := record.NewMap(record.F("password", "x"), record.F("ok", "y"))
	outer := record.NewMap(record.F("user", inner))
	out := e.Mask(outer)
	v, _ := out.Get("user")
	innerOut := v.(*record.Map)
	if pv, _ := innerOut.Get("password"); pv != DefaultMask {
		t.Fatalf("nested password = %v, want masked", pv)
	}
	if ov, _ := innerOut.Get("ok"); ov != "y" {
		t.Fatalf("nested ok = %v, want untouched", ov)
	}
}

func TestMaskDepthOverflowReturnsSubtreeUnchanged(t *testing.T) {
	e := NewEngine(Config{MaxDepth: 1})
	leaf := record.NewMap(record.F("password", "x"))
	mid := record.NewMap(record.F("nested", leaf))
	out := e.Mask(mid)
	v, _ := out.Get("nested")
	if v.(*record.Map) != leaf {
		t.Fatal("depth-overflowed subtree should be returned unchanged")
	}
}

func TestMaskArrayElementWise(t *testing.T) {
	e := newTestEngine()
	arr := []any{
		record.NewMap(record.F("password", "a")),
		record.NewMap(record.F("password", "b")),
	}
	m := record.NewMap(record.F("users", arr))
	out := e.Mask(m)
	v, _ := out.Get("users")
	list := v.([]any)
	for _, item := range list {
		pv, _ := item.(*record.Map).Get("password")
		if pv != DefaultMask {
			t.Fatalf("array element password = %v, want masked", pv)
		}
	}
}

func TestMaskURLSegment(t *testing.T) {
	e := NewEngine(Config{Rules: []Rule{{Key: "token", Strategy: StrategyFull}}, MaxDepth: 5})
	m := record.NewMap(record.F("url", "https://api.example.com/token/abc123/ok"))
	out := e.Mask(m)
	v, _ := out.Get("url")
	want := "https://api.example.com/token/" + DefaultMask + "/ok"
	if v != want {
		t.Fatalf("url = %v, want %v", v, want)
	}
}

func TestAddRuleIsAdditiveAndDedupes(t *testing.T) {
	e := NewEngine(Config{})
	e.AddRule(Rule{Key: "secret", Strategy: StrategyFull})
	e.AddRule(Rule{Key: "secret", Strategy: StrategyFull})
	e.AddRule(Rule{Key: "secret", Strategy: StrategyPartial})
	if len(e.rules) != 1 {
		t.Fatalf("expected duplicate literal rule to be ignored, got %d rules", len(e.rules))
	}
}

func TestMaskCycleDetection(t *testing.T) {
	e := newTestEngine()
	m := record.NewMap()
	m.Set("self", m)
	out := e.Mask(m)
	v, _ := out.Get("self")
	cyc, ok := v.(*record.Map)
	if !ok || !cyc.Has("_circular") {
		t.Fatalf("expected circular placeholder, got %v", v)
	}
}

type fakeSource struct{ keys []string }

func (f fakeSource) SensitiveKeys() []string { return f.keys }

func TestRefreshFromRuleSource(t *testing.T) {
	e := NewEngine(Config{})
	e.RefreshFrom(fakeSource{keys: []string{"newSecretField"}})
	m := record.NewMap(record.F("newSecretField", "x"))
	out := e.Mask(m)
	if v, _ := out.Get("newSecretField"); v != DefaultMask {
		t.Fatalf("newSecretField = %v, want masked after RefreshFrom", v)
	}
}
