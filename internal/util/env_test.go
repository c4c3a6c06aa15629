package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"bogus", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL_ENV", tt.value)
		if got := ParseBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("TEST_STR_ENV", "")
	if got := GetEnvWithDefault("TEST_STR_ENV", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("TEST_STR_ENV", "value")
	if got := GetEnvWithDefault("TEST_STR_ENV", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
}
