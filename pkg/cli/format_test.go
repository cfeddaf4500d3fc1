package cli

import (
	"strings"
	"testing"
	"time"
)

func TestDotPad(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		width    int
		expected string
	}{
		{"normal case", "verify-uptime", 30, "verify-uptime " + strings.Repeat(".", 16)},
		{"short name", "ok", 10, "ok " + strings.Repeat(".", 7)},
		{"name equals width minus one", "abcde", 6, "abcde"},
		{"name equals width", "abcdef", 6, "abcdef"},
		{"name longer than width", "abcdefgh", 4, "abcdefgh"},
		{"zero width", "x", 0, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DotPad(tt.input, tt.width); got != tt.expected {
				t.Errorf("DotPad(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.expected)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{200 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 7*time.Second, "3m07s"},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorsDisabled(t *testing.T) {
	saved := colorEnabled
	defer func() { colorEnabled = saved }()

	colorEnabled = false
	if got := Red("FAIL"); got != "FAIL" {
		t.Errorf("Red with NO_COLOR = %q", got)
	}
	colorEnabled = true
	if got := Green("PASS"); got != "\033[32mPASS\033[0m" {
		t.Errorf("Green = %q", got)
	}
}
