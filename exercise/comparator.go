package exercise

import "fmt"

// ComparatorKind selects how actual output is compared against the expected
// output. The comparator is fixed per exercise, not per test case.
type ComparatorKind int

const (
	// ComparatorExactText compares byte for byte after stripping a single
	// trailing newline from both sides.
	ComparatorExactText ComparatorKind = iota
	// ComparatorWhitespace collapses whitespace runs to single spaces and
	// strips leading/trailing whitespace before comparing.
	ComparatorWhitespace
	// ComparatorNumericTolerance compares positional float tokens within a
	// fixed relative tolerance.
	ComparatorNumericTolerance
	// ComparatorStructuredJSON compares both sides as JSON values by deep
	// equality, ignoring key order.
	ComparatorStructuredJSON
)

var comparatorToString = []string{
	"exact_text",
	"whitespace_normalized",
	"numeric_tolerance",
	"structured_json",
}

var stringToComparator = make(map[string]ComparatorKind)

func init() {
	for i, v := range comparatorToString {
		stringToComparator[v] = ComparatorKind(i)
	}
}

// ComparatorNames returns the known comparator names in kind order.
func ComparatorNames() []string {
	names := make([]string, len(comparatorToString))
	copy(names, comparatorToString)
	return names
}

func (k ComparatorKind) String() string {
	v := int(k)
	if v < 0 || v >= len(comparatorToString) {
		return fmt.Sprintf("comparator(%d)", v)
	}
	return comparatorToString[v]
}

// MarshalJSON encodes the kind as its string name.
func (k ComparatorKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON decodes the kind from its string name.
func (k *ComparatorKind) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid comparator kind: %s", b)
	}
	return k.fromString(string(b[1 : len(b)-1]))
}

// MarshalYAML encodes the kind as its string name.
func (k ComparatorKind) MarshalYAML() (any, error) { return k.String(), nil }

// UnmarshalYAML decodes the kind from its string name.
func (k *ComparatorKind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return k.fromString(s)
}

func (k *ComparatorKind) fromString(s string) error {
	v, ok := stringToComparator[s]
	if !ok {
		return fmt.Errorf("unknown comparator kind %q", s)
	}
	*k = v
	return nil
}

var modeToString = []string{"stdin", "call"}

func (m HarnessMode) String() string {
	v := int(m)
	if v < 0 || v >= len(modeToString) {
		return fmt.Sprintf("mode(%d)", v)
	}
	return modeToString[v]
}

// MarshalYAML encodes the mode as its string name.
func (m HarnessMode) MarshalYAML() (any, error) { return m.String(), nil }

// UnmarshalYAML decodes the mode from its string name; empty defaults to stdin.
func (m *HarnessMode) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "", "stdin":
		*m = ModeStdin
	case "call":
		*m = ModeCall
	default:
		return fmt.Errorf("unknown harness mode %q", s)
	}
	return nil
}
