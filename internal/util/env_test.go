package util

import (
	"reflect"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("INTAKEPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("INTAKEPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"45s", 45 * time.Second},
		{"2h", 2 * time.Hour},
		{"soon", time.Minute},
		{"-5s", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("INTAKEPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("INTAKEPIPE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("INTAKEPIPE_TEST_FLOAT", "0.7")
	if got := ParseFloatEnv("INTAKEPIPE_TEST_FLOAT", 0.1); got != 0.7 {
		t.Errorf("ParseFloatEnv = %v, want 0.7", got)
	}
	t.Setenv("INTAKEPIPE_TEST_FLOAT", "warm")
	if got := ParseFloatEnv("INTAKEPIPE_TEST_FLOAT", 0.1); got != 0.1 {
		t.Errorf("ParseFloatEnv invalid = %v, want default", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("INTAKEPIPE_TEST_STR", "  ")
	if got := GetEnv("INTAKEPIPE_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("GetEnv blank = %q, want fallback", got)
	}
	t.Setenv("INTAKEPIPE_TEST_STR", "value")
	if got := GetEnv("INTAKEPIPE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q, want value", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" skip, pass ,,n/a ")
	want := []string{"skip", "pass", "n/a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if got := SplitList(""); got != nil {
		t.Errorf("SplitList(\"\") = %v, want nil", got)
	}
}
