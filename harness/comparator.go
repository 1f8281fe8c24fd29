package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/masteryhub/grader/exercise"
)

// relTolerance is the fixed relative tolerance for the numeric comparator.
// It is exercise-wide, not per test case.
const relTolerance = 1e-6

const maxDiffLen = 200

// compare checks actual against expected under the given comparator kind
// and returns a short human-readable diff summary on mismatch. Comparators
// fail, they never error: malformed actual output is a wrong answer, not an
// infrastructure problem.
func compare(kind exercise.ComparatorKind, expected, actual string) (bool, string) {
	switch kind {
	case exercise.ComparatorExactText:
		return compareExact(expected, actual)
	case exercise.ComparatorWhitespace:
		return compareWhitespace(expected, actual)
	case exercise.ComparatorNumericTolerance:
		return compareNumeric(expected, actual)
	case exercise.ComparatorStructuredJSON:
		return compareJSON(expected, actual)
	default:
		return false, fmt.Sprintf("unknown comparator kind %d", kind)
	}
}

func stripTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

func compareExact(expected, actual string) (bool, string) {
	e, a := stripTrailingNewline(expected), stripTrailingNewline(actual)
	if e == a {
		return true, ""
	}
	return false, lineDiff(e, a)
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func compareWhitespace(expected, actual string) (bool, string) {
	e, a := normalizeWhitespace(expected), normalizeWhitespace(actual)
	if e == a {
		return true, ""
	}
	return false, lineDiff(e, a)
}

func compareNumeric(expected, actual string) (bool, string) {
	et, at := strings.Fields(expected), strings.Fields(actual)
	if len(et) != len(at) {
		return false, fmt.Sprintf("expected %d numeric tokens, got %d", len(et), len(at))
	}
	for i := range et {
		ev, err := strconv.ParseFloat(et[i], 64)
		if err != nil {
			return false, fmt.Sprintf("token %d: expected side %q is not numeric", i, truncate(et[i]))
		}
		av, err := strconv.ParseFloat(at[i], 64)
		if err != nil {
			return false, fmt.Sprintf("token %d: %q is not numeric", i, truncate(at[i]))
		}
		if !withinTolerance(ev, av) {
			return false, fmt.Sprintf("token %d: expected %v, got %v", i, ev, av)
		}
	}
	return true, ""
}

func withinTolerance(expected, actual float64) bool {
	diff := math.Abs(expected - actual)
	return diff <= relTolerance*math.Max(1, math.Abs(expected))
}

func compareJSON(expected, actual string) (bool, string) {
	var ev, av any
	if err := json.Unmarshal([]byte(expected), &ev); err != nil {
		return false, "expected output is not valid JSON"
	}
	if err := json.Unmarshal([]byte(actual), &av); err != nil {
		return false, "output is not valid JSON"
	}
	if reflect.DeepEqual(ev, av) {
		return true, ""
	}
	return false, "JSON structures differ"
}

// lineDiff reports the first differing line of two already-normalized texts.
func lineDiff(expected, actual string) string {
	el, al := strings.Split(expected, "\n"), strings.Split(actual, "\n")
	n := len(el)
	if len(al) > n {
		n = len(al)
	}
	for i := 0; i < n; i++ {
		var e, a string
		if i < len(el) {
			e = el[i]
		}
		if i < len(al) {
			a = al[i]
		}
		if e != a {
			return fmt.Sprintf("line %d: expected %q, got %q", i+1, truncate(e), truncate(a))
		}
	}
	return "outputs differ"
}

func truncate(s string) string {
	if len(s) <= maxDiffLen {
		return s
	}
	return s[:maxDiffLen] + "..."
}
