package harness

import (
	"testing"

	"github.com/masteryhub/grader/exercise"
)

func TestCompare_ExactText(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		pass     bool
	}{
		{"identical", "4", "4", true},
		{"trailing newline stripped", "4", "4\n", true},
		{"crlf stripped", "4", "4\r\n", true},
		{"both newlines", "4\n", "4\n", true},
		{"only one stripped", "4", "4\n\n", false},
		{"case sensitive", "Hello", "hello", false},
		{"internal whitespace matters", "a b", "a  b", false},
		{"empty vs empty", "", "", true},
		{"mismatch", "4", "5", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pass, diff := compare(exercise.ComparatorExactText, tc.expected, tc.actual)
			if pass != tc.pass {
				t.Errorf("pass = %v, want %v (diff: %s)", pass, tc.pass, diff)
			}
			if !pass && diff == "" {
				t.Error("expected a diff summary on mismatch")
			}
		})
	}
}

func TestCompare_Whitespace(t *testing.T) {
	tests := []struct {
		expected string
		actual   string
		pass     bool
	}{
		{"a b c", "a   b\tc", true},
		{"  a b  ", "a b\n", true},
		{"a\nb", "a b", true},
		{"ab", "a b", false},
		{"", "   \n\t ", true},
	}
	for _, tc := range tests {
		pass, _ := compare(exercise.ComparatorWhitespace, tc.expected, tc.actual)
		if pass != tc.pass {
			t.Errorf("compare(%q, %q) = %v, want %v", tc.expected, tc.actual, pass, tc.pass)
		}
	}
}

func TestCompare_NumericTolerance(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		pass     bool
	}{
		{"exact", "1.5 2.5", "1.5 2.5", true},
		{"within tolerance", "1.0", "1.0000005", true},
		{"outside tolerance", "1.0", "1.001", false},
		{"relative scaling", "1000000", "1000000.5", true},
		{"token count mismatch", "1 2 3", "1 2", false},
		{"non numeric actual", "1 2", "1 x", false},
		{"non numeric expected", "x", "1", false},
		{"scientific notation", "1e-3", "0.001", true},
		{"negative", "-2.5", "-2.5000001", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pass, _ := compare(exercise.ComparatorNumericTolerance, tc.expected, tc.actual)
			if pass != tc.pass {
				t.Errorf("pass = %v, want %v", pass, tc.pass)
			}
		})
	}
}

func TestCompare_StructuredJSON(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		pass     bool
	}{
		{"key order ignored", `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"nested", `{"a":[1,2,{"c":true}]}`, `{"a":[1,2,{"c":true}]}`, true},
		{"array order matters", `[1,2]`, `[2,1]`, false},
		{"value mismatch", `{"a":1}`, `{"a":2}`, false},
		{"actual not json is a fail", `{"a":1}`, `oops`, false},
		{"whitespace irrelevant", `{"a": 1}`, `{"a":1}`, true},
		{"scalar", `42`, `42`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pass, _ := compare(exercise.ComparatorStructuredJSON, tc.expected, tc.actual)
			if pass != tc.pass {
				t.Errorf("pass = %v, want %v", pass, tc.pass)
			}
		})
	}
}
