package exercise

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/shlex"
)

// DefaultRunCommand is the interpreter invocation used when an exercise does
// not override it. -I isolates the interpreter from the user environment and
// -B suppresses bytecode cache files in the scratch directory.
const DefaultRunCommand = "python3 -I -B"

// Store is an in-memory, read-only set of validated exercises keyed by id.
type Store struct {
	exercises map[string]*Exercise
}

// Get returns the exercise with the given id, or false if absent.
func (s *Store) Get(id string) (*Exercise, bool) {
	e, ok := s.exercises[id]
	return e, ok
}

// IDs returns all exercise ids in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.exercises))
	for id := range s.exercises {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded exercises.
func (s *Store) Len() int { return len(s.exercises) }

// NewStore builds a store from already constructed definitions, validating
// each. It serves embedders and tests; servers load from disk with LoadDir.
func NewStore(exs ...*Exercise) (*Store, error) {
	s := &Store{exercises: make(map[string]*Exercise, len(exs))}
	for _, e := range exs {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.exercises[e.ID]; dup {
			return nil, configErrorf(e.ID, "duplicate exercise id")
		}
		s.exercises[e.ID] = e
	}
	return s, nil
}

// Parse decodes and validates a single exercise definition.
func Parse(data []byte) (*Exercise, error) {
	var e Exercise
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse exercise: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.RunArgs(); err != nil {
		return nil, configErrorf(e.ID, "%v", err)
	}
	return &e, nil
}

// LoadDir reads every .yaml / .yml file under dir as one exercise each and
// returns the validated store. The whole load fails on the first malformed
// definition so a broken exercise never reaches grading.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read exercise dir: %w", err)
	}
	s := &Store{exercises: make(map[string]*Exercise)}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		e, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ent.Name(), err)
		}
		if _, dup := s.exercises[e.ID]; dup {
			return nil, configErrorf(e.ID, "duplicate exercise id (file %s)", ent.Name())
		}
		s.exercises[e.ID] = e
	}
	return s, nil
}

// RunArgs returns the interpreter argv for this exercise, shlex-split from
// RunCommand or the default.
func (e *Exercise) RunArgs() ([]string, error) {
	cmd := e.RunCommand
	if cmd == "" {
		cmd = DefaultRunCommand
	}
	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("parse run command %q: %w", cmd, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty run command")
	}
	return args, nil
}
