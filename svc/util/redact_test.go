package util

import "testing"

func TestRedactToken(t *testing.T) {
	if got := RedactToken(""); got != "" {
		t.Errorf("RedactToken(\"\") = %q", got)
	}
	if got := RedactToken("short"); got != "[TOKEN-REDACTED]" {
		t.Errorf("RedactToken(short) = %q", got)
	}
	if got := RedactToken("NDI.abcdefghijkl"); got != "NDI....ijkl[REDACTED]" {
		t.Errorf("RedactToken(long) = %q", got)
	}
}

func TestRedactIP(t *testing.T) {
	tests := map[string]string{
		"203.0.113.77:5555": "203.0.113.0",
		"203.0.113.77":      "203.0.113.0",
		"2001:db8:1:2::7":   "2001:db8::",
	}
	for in, want := range tests {
		if got := RedactIP(in); got != want {
			t.Errorf("RedactIP(%q) = %q, want %q", in, got, want)
		}
	}
	if got := RedactIP("not-an-ip"); len(got) != len("hash:")+16 {
		t.Errorf("RedactIP(garbage) = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG").String() != "debug" {
		t.Error("DEBUG not parsed")
	}
	if ParseLevel("nonsense").String() != "info" {
		t.Error("unknown level should default to info")
	}
}
