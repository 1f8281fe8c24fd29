package harness

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/masteryhub/grader/exercise"
)

const (
	bootstrapName = "_bootstrap.py"
	mainName      = "main.py"
)

// baselineModules is the safe import baseline every submission may use
// regardless of the exercise allow-list.
var baselineModules = []string{
	"abc", "array", "bisect", "cmath", "collections", "copy", "dataclasses",
	"datetime", "decimal", "enum", "fractions", "functools", "heapq",
	"itertools", "json", "math", "operator", "random", "re", "statistics",
	"string", "textwrap", "typing", "unicodedata",
}

// deniedModules are stripped and refused even when preloaded by the
// interpreter. Network and process spawning are denied outright; posix/nt
// are the raw interfaces underneath the neutered os functions.
var deniedModules = []string{
	"_posixsubprocess", "_socket", "ctypes", "multiprocessing", "nt",
	"posix", "socket", "ssl", "subprocess",
}

var moduleNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// guardTemplate installs an import allow-list, disables process spawning
// and adds a write barrier before handing control to the submission. It is
// the language-level half of the sandbox; the hard resource walls live in
// the executor, and network denial in depth comes from dockerbox running
// with networking disabled.
//
// The deny list binds every import. The allow-list binds only code living
// in the scratch dir: interpreter machinery (runpy, pkgutil and whatever
// the stdlib lazily pulls in underneath them) imports from outside the box
// and must stay free to do so.
const guardTemplate = `import builtins as _b
import sys as _s
import os as _os
import runpy as _runpy

_allowed = frozenset(%s)
_denied = frozenset(%s)

for _m in list(_s.modules):
    if _m.split('.')[0] in _denied:
        del _s.modules[_m]
_preloaded = frozenset(_s.modules)

_box = _os.path.realpath(_os.getcwd())

def _refuse(*_a, **_k):
    raise PermissionError('spawning processes is not allowed')

for _fn in list(dir(_os)):
    if _fn in ('system', 'popen', 'fork', 'forkpty') or _fn.startswith(('exec', 'spawn', 'posix_spawn')):
        setattr(_os, _fn, _refuse)

_real_import = _b.__import__

def _inside_box(mod_globals):
    if not isinstance(mod_globals, dict):
        return True
    _f = mod_globals.get('__file__')
    if not isinstance(_f, str):
        return True
    _p = _os.path.realpath(_f)
    return _p == _box or _p.startswith(_box + _os.sep)

def _guarded_import(name, globals=None, locals=None, fromlist=(), level=0):
    if level == 0:
        root = name.split('.')[0]
        if root in _denied:
            raise ImportError('import of %%r is not allowed' %% name)
        if _inside_box(globals) and root not in _allowed and root not in _preloaded:
            raise ImportError('import of %%r is not allowed' %% name)
    return _real_import(name, globals, locals, fromlist, level)

_b.__import__ = _guarded_import

_real_open = _b.open

def _guarded_open(file, mode='r', *args, **kwargs):
    if not isinstance(file, int) and any(c in mode for c in 'wxa+'):
        _p = _os.path.realpath(_os.fspath(file))
        if _p != _box and not _p.startswith(_box + _os.sep):
            raise PermissionError('write outside the working directory is not allowed')
    return _real_open(file, mode, *args, **kwargs)

_b.open = _guarded_open

_runpy.run_path(%q, run_name='__main__')
`

// buildGuard renders the bootstrap program for the exercise's allow-list.
func buildGuard(allowed []string) []byte {
	names := make([]string, 0, len(baselineModules)+len(allowed))
	names = append(names, baselineModules...)
	for _, m := range allowed {
		if moduleNameRe.MatchString(m) {
			names = append(names, m)
		}
	}
	sort.Strings(names)
	return []byte(fmt.Sprintf(guardTemplate, pyTuple(names), pyTuple(deniedModules), mainName))
}

func pyTuple(names []string) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, n := range names {
		b.WriteByte('\'')
		b.WriteString(n)
		b.WriteString("', ")
	}
	b.WriteByte(')')
	return b.String()
}

// buildProgram materializes the files and stdin for one test case run. In
// call mode the test case input is a harness snippet appended to the
// submission instead of data on stdin.
func buildProgram(ex *exercise.Exercise, tc exercise.TestCase, code string) (files map[string][]byte, stdin string) {
	program := code
	if ex.Mode == exercise.ModeCall {
		program = code + "\n\n" + tc.Input
	} else {
		stdin = tc.Input
	}
	files = map[string][]byte{
		mainName:      []byte(program),
		bootstrapName: buildGuard(ex.Limits.AllowedModules),
	}
	return files, stdin
}
