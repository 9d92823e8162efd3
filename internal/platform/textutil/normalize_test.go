package textutil

import "testing"

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"  welcome10 ": "WELCOME10",
		"SAVE20":       "SAVE20",
		"   ":          "",
	}
	for input, want := range cases {
		if got := NormalizeCode(input); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := FirstNonEmpty(" primary ", "secondary"); got != "primary" {
		t.Fatalf("expected primary, got %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
