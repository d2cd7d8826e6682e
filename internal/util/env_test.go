package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("LEADPIPE_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("LEADPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("LEADPIPE_TEST_INT", "42")
	if got := ParseIntEnv("LEADPIPE_TEST_INT", 7); got != 42 {
		t.Errorf("ParseIntEnv = %d, want 42", got)
	}
	t.Setenv("LEADPIPE_TEST_INT", "forty")
	if got := ParseIntEnv("LEADPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv invalid = %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("LEADPIPE_TEST_DUR", "90s")
	if got := ParseDurationEnv("LEADPIPE_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDurationEnv = %v, want 90s", got)
	}
	t.Setenv("LEADPIPE_TEST_DUR", "-5m")
	if got := ParseDurationEnv("LEADPIPE_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv negative = %v, want default", got)
	}
	t.Setenv("LEADPIPE_TEST_DUR", "")
	if got := ParseDurationEnv("LEADPIPE_TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("ParseDurationEnv unset = %v, want default", got)
	}
}
