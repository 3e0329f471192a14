package levels

import "testing"

func TestIsEnabled(t *testing.T) {
	cases := []struct {
		name      string
		level     Level
		threshold Level
		want      bool
	}{
		{"info at info threshold", Info, Info, true},
		{"debug at info threshold", Debug, Info, false},
		{"error at info threshold", Error, Info, true},
		{"info at warn threshold", Info, Warn, false},
		{"audit at warn threshold bypasses", Audit, Warn, true},
		{"audit at silent threshold never passes", Audit, Silent, false},
		{"error at silent threshold never passes", Error, Silent, false},
		{"trace at trace threshold", Trace, Trace, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsEnabled(tc.level, tc.threshold); got != tc.want {
				t.Errorf("IsEnabled(%v, %v) = %v, want %v", tc.level, tc.threshold, got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	lvl, err := Parse("warn")
	if err != nil || lvl != Warn {
		t.Fatalf("Parse(warn) = %v, %v; want Warn, nil", lvl, err)
	}
	if _, err := Parse("bogus"); err == nil {
		t.Fatal("Parse(bogus) should return an error")
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, lvl := range []Level{Trace, Debug, Info, Warn, Error, Fatal, Audit, Silent} {
		parsed, err := Parse(lvl.String())
		if err != nil {
			t.Fatalf("Parse(%s) returned error: %v", lvl, err)
		}
		if parsed != lvl {
			t.Fatalf("round trip mismatch: %v -> %q -> %v", lvl, lvl.String(), parsed)
		}
	}
}
