// Package projectroot locates the logical root of the enclosing project by
// walking upward from beacon's own installed location. The process working
// directory is deliberately never consulted: it reflects where the host was
// launched, not where beacon lives, and the two differ whenever beacon is
// embedded as a nested component inside a larger project tree.
package projectroot

import (
	"os"
	"path/filepath"
	"sync"
)

// Marker tags indicating which predicate matched during resolution.
const (
	MarkerVCSDir   = "vcs-dir"
	MarkerEnvFile  = "env-file"
	MarkerFallback = "fallback"
)

// fallbackAscentLevels is the historically assumed install depth: when no
// marker is found anywhere up the tree, the root is taken this many levels
// above the resolver's own location (the binary typically lives under
// <root>/bin/ or <root>/hooks/).
const fallbackAscentLevels = 2

var vcsDirnames = []string{".git", ".hg", ".svn"}

var envFilenames = []string{"beacon.yml", ".beacon.yml"}

// ProjectRoot is the resolved filesystem location of the enclosing project.
// Immutable once computed for the process lifetime.
type ProjectRoot struct {
	// Path is the absolute directory path of the root.
	Path string
	// MatchedMarker names the predicate that matched (MarkerVCSDir,
	// MarkerEnvFile) or MarkerFallback when nothing matched.
	MatchedMarker string
	// SearchDepth is the number of ancestor levels ascended from the
	// resolver's own directory. Zero means the resolver's own directory
	// matched.
	SearchDepth int
}

// Confident reports whether the root came from an actual marker match rather
// than the best-effort fallback.
func (r ProjectRoot) Confident() bool {
	return r.MatchedMarker != MarkerFallback
}

// Resolver resolves the project root exactly once per process; subsequent
// calls return the memoized result.
type Resolver struct {
	startDirpath func() (string, error)

	once sync.Once
	root ProjectRoot
}

// NewResolver creates a resolver that starts its ascent from the given
// directory. Used by tests and by hosts that embed beacon at a known path.
func NewResolver(startDirpath string) *Resolver {
	return &Resolver{
		startDirpath: func() (string, error) { return startDirpath, nil },
	}
}

// NewExecutableResolver creates a resolver anchored at the directory holding
// the running beacon binary.
func NewExecutableResolver() *Resolver {
	return &Resolver{
		startDirpath: func() (string, error) {
			executableFilepath, err := os.Executable()
			if err != nil {
				return "", err
			}
			return filepath.Dir(executableFilepath), nil
		},
	}
}

// Resolve returns the project root. It never fails: the worst case is a
// fallback-tagged result callers can distinguish via Confident().
func (r *Resolver) Resolve() ProjectRoot {
	r.once.Do(func() {
		r.root = r.resolve()
	})
	return r.root
}

func (r *Resolver) resolve() ProjectRoot {
	startDirpath, err := r.startDirpath()
	if err != nil {
		// No usable anchor at all; degrade to the filesystem root so callers
		// still get a well-formed (if useless) fallback value.
		return ProjectRoot{Path: string(filepath.Separator), MatchedMarker: MarkerFallback, SearchDepth: 0}
	}

	if abs, err := filepath.Abs(startDirpath); err == nil {
		startDirpath = abs
	}
	// Symlinked install paths must be resolved before ascent begins, or the
	// walk would climb the link's parent tree instead of the real one.
	if resolved, err := filepath.EvalSymlinks(startDirpath); err == nil {
		startDirpath = resolved
	}

	dirpath := startDirpath
	for depth := 0; ; depth++ {
		if marker, ok := matchMarker(dirpath); ok {
			return ProjectRoot{Path: dirpath, MatchedMarker: marker, SearchDepth: depth}
		}
		parentDirpath := filepath.Dir(dirpath)
		if parentDirpath == dirpath {
			break
		}
		dirpath = parentDirpath
	}

	return fallbackRoot(startDirpath)
}

// matchMarker tests the ordered marker predicates against one directory.
// A match at depth zero (the resolver's own directory) is a valid match.
func matchMarker(dirpath string) (string, bool) {
	for _, vcsDirname := range vcsDirnames {
		// .git may be a plain file in linked worktrees, so any stat hit counts.
		if _, err := os.Stat(filepath.Join(dirpath, vcsDirname)); err == nil {
			return MarkerVCSDir, true
		}
	}
	for _, envFilename := range envFilenames {
		if info, err := os.Stat(filepath.Join(dirpath, envFilename)); err == nil && !info.IsDir() {
			return MarkerEnvFile, true
		}
	}
	return "", false
}

func fallbackRoot(startDirpath string) ProjectRoot {
	dirpath := startDirpath
	depth := 0
	for depth < fallbackAscentLevels {
		parentDirpath := filepath.Dir(dirpath)
		if parentDirpath == dirpath {
			break
		}
		dirpath = parentDirpath
		depth++
	}
	return ProjectRoot{Path: dirpath, MatchedMarker: MarkerFallback, SearchDepth: depth}
}
