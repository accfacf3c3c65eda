// Package walker enumerates candidate files under a root, honoring
// layered ignore rules: .gitignore and .noindex files with standard git
// semantics, a built-in always-ignore set, and a maximum file size.
package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultMaxFileSize bounds how large a file may be and still be indexed.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// ignoreFileNames are consulted in every directory, nearest ancestor
// winning, exactly like git.
var ignoreFileNames = []string{".gitignore", ".noindex"}

// alwaysIgnore is the built-in directory/file name blocklist.
var alwaysIgnore = map[string]bool{
	".git":         true,
	".semcode":     true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"vendor":       true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".DS_Store":    true,
}

// Entry is one discovered file.
type Entry struct {
	AbsPath string
	RelPath string // repo-relative, forward slashes
}

// Options tunes enumeration.
type Options struct {
	MaxFileSize int64 // 0 means DefaultMaxFileSize
}

// ignoreLayer is one directory's compiled ignore rules.
type ignoreLayer struct {
	dir     string // repo-relative dir the rules are anchored at, "" for root
	matcher *gitignore.GitIgnore
}

// Ignorer answers "should this path be skipped" using the same layered
// rules the walk applies. The watch supervisor filters events with it.
type Ignorer struct {
	root   string
	layers []ignoreLayer
	maxSz  int64
}

// NewIgnorer loads every ignore file under root up front.
func NewIgnorer(root string, opts Options) (*Ignorer, error) {
	maxSz := opts.MaxFileSize
	if maxSz <= 0 {
		maxSz = DefaultMaxFileSize
	}
	ig := &Ignorer{root: root, maxSz: maxSz}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip silently
		}
		if d.IsDir() {
			if path != root && alwaysIgnore[d.Name()] {
				return filepath.SkipDir
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return nil
			}
			if rel == "." {
				rel = ""
			}
			for _, name := range ignoreFileNames {
				m, merr := gitignore.CompileIgnoreFile(filepath.Join(path, name))
				if merr == nil && m != nil {
					ig.layers = append(ig.layers, ignoreLayer{dir: filepath.ToSlash(rel), matcher: m})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ig, nil
}

// Ignored reports whether the repo-relative path is excluded. isDir
// matters for trailing-slash patterns.
func (ig *Ignorer) Ignored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(rel, "/") {
		if alwaysIgnore[seg] {
			return true
		}
	}
	// Nearest-ancestor precedence: later (deeper) layers win, so walk
	// layers in order and let the last matching pattern decide.
	ignored := false
	for _, layer := range ig.layers {
		sub, ok := underDir(rel, layer.dir)
		if !ok {
			continue
		}
		probe := sub
		if isDir {
			probe = sub + "/"
		}
		if hit, pat := layer.matcher.MatchesPathHow(probe); pat != nil {
			ignored = hit
		}
	}
	return ignored
}

// IgnoredAbs is Ignored for an absolute path under the root.
func (ig *Ignorer) IgnoredAbs(abs string, isDir bool) bool {
	rel, err := filepath.Rel(ig.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	return ig.Ignored(rel, isDir)
}

// MaxFileSize returns the configured size cap.
func (ig *Ignorer) MaxFileSize() int64 { return ig.maxSz }

// underDir rewrites rel into layer-dir-relative form, or reports that
// rel is outside the layer's subtree.
func underDir(rel, dir string) (string, bool) {
	if dir == "" {
		return rel, true
	}
	prefix := dir + "/"
	if !strings.HasPrefix(rel, prefix) {
		return "", false
	}
	return strings.TrimPrefix(rel, prefix), true
}

// Walk enumerates files under root. Output order is deterministic
// within one run (lexicographic directory walk).
func Walk(root string, opts Options) ([]Entry, error) {
	ig, err := NewIgnorer(root, opts)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysIgnore[d.Name()] || ig.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if alwaysIgnore[d.Name()] || ig.Ignored(rel, false) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if info.Size() > ig.maxSz {
			return nil
		}
		entries = append(entries, Entry{AbsPath: path, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Stat mirrors os.Stat but maps not-exist to (nil, nil) so callers can
// treat vanished files as deletions.
func Stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}
