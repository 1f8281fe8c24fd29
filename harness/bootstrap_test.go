package harness

import (
	"strings"
	"testing"

	"github.com/masteryhub/grader/exercise"
)

// guardLine extracts the single generated line starting with prefix.
func guardLine(t *testing.T, guard, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(guard, "\n") {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("no line with prefix %q in guard", prefix)
	return ""
}

func TestBuildGuard_AllowList(t *testing.T) {
	guard := string(buildGuard([]string{"numpy", "pandas"}))
	allowed := guardLine(t, guard, "_allowed = frozenset(")
	for _, m := range []string{"'numpy', ", "'pandas', ", "'math', ", "'json', "} {
		if !strings.Contains(allowed, m) {
			t.Errorf("allow-list missing %s", m)
		}
	}
	denied := guardLine(t, guard, "_denied = frozenset(")
	for _, m := range []string{"'socket', ", "'subprocess', ", "'ctypes', ", "'posix', "} {
		if !strings.Contains(denied, m) {
			t.Errorf("deny-list missing %s", m)
		}
	}
	if !strings.Contains(guard, `run_path("main.py"`) {
		t.Error("guard does not hand off to the submission")
	}
}

func TestBuildGuard_RejectsMalformedNames(t *testing.T) {
	baseline := guardLine(t, string(buildGuard(nil)), "_allowed = frozenset(")
	// anything that is not a bare identifier must not reach the generated code
	for _, bad := range []string{"os.path", "x'); import os #", "", "a-b", "1mod"} {
		allowed := guardLine(t, string(buildGuard([]string{bad})), "_allowed = frozenset(")
		if allowed != baseline {
			t.Errorf("name %q changed the allow tuple: %s", bad, allowed)
		}
	}
	// a valid name does extend the tuple
	allowed := guardLine(t, string(buildGuard([]string{"base64"})), "_allowed = frozenset(")
	if !strings.Contains(allowed, "'base64', ") {
		t.Errorf("valid name missing from the allow tuple: %s", allowed)
	}
}

func TestBuildGuard_SpawnDisabled(t *testing.T) {
	guard := string(buildGuard(nil))
	if !strings.Contains(guard, "setattr(_os, _fn, _refuse)") {
		t.Error("os spawn surface not neutered")
	}
	// stdlib frames bypass the allow-list, never the deny list
	if !strings.Contains(guard, "_inside_box(globals)") {
		t.Error("allow-list not scoped to code in the box")
	}
}

func TestBuildProgram_StdinMode(t *testing.T) {
	ex := &exercise.Exercise{Mode: exercise.ModeStdin}
	tc := exercise.TestCase{Input: "1 2 3\n"}
	files, stdin := buildProgram(ex, tc, "print(input())")
	if stdin != "1 2 3\n" {
		t.Errorf("stdin = %q", stdin)
	}
	if string(files[mainName]) != "print(input())" {
		t.Errorf("main = %q", files[mainName])
	}
	if len(files[bootstrapName]) == 0 {
		t.Error("bootstrap missing")
	}
}

func TestBuildProgram_CallMode(t *testing.T) {
	ex := &exercise.Exercise{Mode: exercise.ModeCall}
	tc := exercise.TestCase{Input: "print(add(2, 3))"}
	files, stdin := buildProgram(ex, tc, "def add(a, b):\n    return a + b")
	if stdin != "" {
		t.Errorf("stdin = %q", stdin)
	}
	main := string(files[mainName])
	if !strings.HasSuffix(main, "print(add(2, 3))") {
		t.Errorf("harness snippet not appended: %q", main)
	}
	if !strings.HasPrefix(main, "def add") {
		t.Errorf("submission not first: %q", main)
	}
}
