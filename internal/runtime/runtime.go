// Package runtime locates a required runtime installation on disk.
//
// Some dependencies need a runtime the supervisor does not ship (the
// canonical case: a document-extraction server that needs a JVM). Discovery
// is explicit: a root directory plus a glob pattern from the run spec,
// and the result is injected into child process environments only. The
// supervisor never mutates its own environment.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound indicates that no installation matched the configured pattern.
var ErrNotFound = errors.New("runtime installation not found")

// Install is a resolved runtime installation.
type Install struct {
	// Home is the installation root (e.g. /usr/lib/jvm/jdk-21).
	Home string
	// Bin is the directory holding the installation's executables.
	Bin string
}

// Resolve searches root for a directory matching pattern and returns the
// lexically greatest match, which for versioned install names picks the
// newest. binSubdir defaults to "bin" when empty.
func Resolve(root, pattern, binSubdir string) (Install, error) {
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return Install{}, fmt.Errorf("searching %s for %q: %w", root, pattern, err)
	}

	var dirs []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, m)
	}

	if len(dirs) == 0 {
		return Install{}, fmt.Errorf("no install matching %q under %s: %w", pattern, root, ErrNotFound)
	}

	sort.Strings(dirs)
	home := dirs[len(dirs)-1]

	if binSubdir == "" {
		binSubdir = "bin"
	}

	return Install{
		Home: home,
		Bin:  filepath.Join(home, binSubdir),
	}, nil
}

// PathEnv returns a PATH value with the install's bin directory prepended
// to base. An empty base yields just the bin directory.
func (i Install) PathEnv(base string) string {
	if base == "" {
		return i.Bin
	}
	return i.Bin + string(os.PathListSeparator) + base
}
