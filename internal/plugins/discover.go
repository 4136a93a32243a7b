package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPattern matches plugin artifacts in the plugin directory.
const DefaultPattern = IDPrefix + "*.so"

// Candidate is a plugin that may be loaded.
type Candidate struct {
	ID      string
	Path    string
	builtin func() Plugin
}

// Builtin reports whether the candidate is compiled into the daemon.
func (c Candidate) Builtin() bool { return c.builtin != nil }

// Source describes where the candidate comes from, for logs.
func (c Candidate) Source() string {
	if c.Builtin() {
		return "builtin"
	}
	return c.Path
}

// Discover lists plugin artifacts in dir matching pattern, sorted by file
// name. A missing directory yields no candidates.
func Discover(dir, pattern string) ([]Candidate, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list plugin directory %s: %w", dir, err)
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("plugin pattern %q: %w", pattern, err)
		}
		if !matched {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path: filepath.Join(dir, name),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return filepath.Base(candidates[i].Path) < filepath.Base(candidates[j].Path)
	})
	return candidates, nil
}

// Catalog merges built-in plugins (first, in declaration order) with
// discovered artifacts. An artifact whose identifier matches a built-in is
// dropped, as is a second artifact with an identifier already seen.
func Catalog(builtins []Builtin, discovered []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(builtins)+len(discovered))
	out := make([]Candidate, 0, len(builtins)+len(discovered))
	for _, builtin := range builtins {
		if builtin.ID == "" || builtin.New == nil {
			continue
		}
		if _, dup := seen[builtin.ID]; dup {
			continue
		}
		seen[builtin.ID] = struct{}{}
		out = append(out, Candidate{ID: builtin.ID, builtin: builtin.New})
	}
	for _, candidate := range discovered {
		if _, dup := seen[candidate.ID]; dup {
			continue
		}
		seen[candidate.ID] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
