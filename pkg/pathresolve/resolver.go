// Package pathresolve implements the Path Resolver: it turns
// (dirfd, path, no_follow) triples into canonical repository-relative
// paths, applying symlink-following rules, view overlays, and tmp
// remapping.
package pathresolve

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

// maxSymlinkDepth bounds symlink-following to guard against cycles; this
// mirrors the kernel's own ELOOP behavior rather than the spec itself, which
// only requires that resolution terminate.
const maxSymlinkDepth = 40

// View describes a single virtual mount point: an upper (writable) layer
// stacked over one or more lower (read-only) layers.
type View struct {
	Upper string
	Lower []string
}

// Config is the immutable configuration a Resolver is constructed with:
// view overlays, tmp remapping, and external source directories. It is
// loaded once at construction and never mutated afterward; reconfiguration
// requires building a new Resolver.
type Config struct {
	// RepoRoot is the real, absolute path of the repository root.
	RepoRoot string
	// Views maps a virtual mount point to its overlay configuration.
	Views map[string]View
	// TmpView is the virtual path at which a job observes its private tmp
	// directory.
	TmpView string
	// TmpDir is the real directory backing TmpView.
	TmpDir string
	// SrcDirs lists external, read-only source directories.
	SrcDirs []string
}

// SolveReport is the result of resolving a path reference.
type SolveReport struct {
	// Real is the canonical, fully resolved path.
	Real depmodel.Path
	// FileLoc classifies where Real resolves to.
	FileLoc depmodel.Location
	// Lnks enumerates every symlink traversed during resolution; each
	// becomes an implicit Lnk-access dep.
	Lnks []depmodel.Path
	// FileAccessed is Yes when the terminal component itself was a symlink
	// that was dereferenced, Maybe when resolution could not determine
	// whether dereferencing occurred (never produced today, reserved for
	// future no_follow-ambiguous cases), No otherwise.
	FileAccessed depmodel.Write
}

// Resolver owns the canonical representation of a job's current working
// directory and resolves path references against it and against the
// configured overlays. Chdir takes an exclusive lock; Solve takes a shared
// lock, so many resolutions can proceed concurrently between chdir calls.
type Resolver struct {
	mu     sync.RWMutex
	cwd    depmodel.Path
	config Config
	logger *logging.Logger
}

// New creates a Resolver rooted at the repository root with cwd initialized
// to the repository root.
func New(config Config, logger *logging.Logger) *Resolver {
	return &Resolver{
		cwd:    "/",
		config: config,
		logger: logger.Sublogger("pathresolve"),
	}
}

// Chdir changes the resolver's notion of the current working directory.
// newCwd must already be a canonical path (typically the Real field of a
// prior SolveReport). Chdir serializes with an exclusive lock against
// concurrent Solve calls.
func (r *Resolver) Chdir(newCwd depmodel.Path) error {
	if err := newCwd.Clean(); err != nil {
		return errors.Wrap(err, "invalid chdir target")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cwd = newCwd
	r.logger.Debugf("chdir to %s", newCwd)
	return nil
}

// Cwd returns the resolver's current working directory.
func (r *Resolver) Cwd() depmodel.Path {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cwd
}

// statFunc is the lstat hook used by solveWith and applyViewsAndTmp; tests
// substitute a fake one. It reports whether path exists and, if so, whether
// it is a symlink and its link target.
type statFunc func(path string) (isSymlink bool, linkTarget string, exists bool, err error)

func osLstat(path string) (bool, string, bool, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, "", false, nil
	}
	if err != nil {
		return false, "", false, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return true, "", true, err
		}
		return true, target, true, nil
	}
	return false, "", true, nil
}

// Solve resolves a (base, path, noFollow) reference against the resolver's
// current cwd (when base is empty) or against base (when supplied,
// analogous to resolving against an explicit dirfd). A missing component is
// not an error; an empty path, an lstat failure, or more than
// maxSymlinkDepth symlink traversals is.
func (r *Resolver) Solve(base depmodel.Path, path string, noFollow bool) (SolveReport, error) {
	return r.solveWith(base, path, noFollow, osLstat)
}

func (r *Resolver) solveWith(base depmodel.Path, path string, noFollow bool, stat statFunc) (SolveReport, error) {
	if path == "" {
		return SolveReport{}, errors.New("empty path")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	start := base
	if start == "" {
		start = r.cwd
	}
	if strings.HasPrefix(path, "/") {
		start = "/"
	}

	report := SolveReport{}
	current := start
	remaining := splitComponents(path)
	depth := 0

	for len(remaining) > 0 {
		component := remaining[0]
		remaining = remaining[1:]

		switch component {
		case ".":
			continue
		case "..":
			current = current.Dir()
			continue
		}

		candidate := current.Join(component)
		isLast := len(remaining) == 0

		real := r.applyViewsAndTmp(candidate, stat)
		isSymlink, target, exists, err := stat(real)
		if err != nil {
			return SolveReport{}, errors.Wrapf(err, "unable to stat %s", real)
		}

		if !exists {
			current = candidate
			continue
		}

		if isSymlink && (!isLast || !noFollow) {
			depth++
			if depth > maxSymlinkDepth {
				return SolveReport{}, errors.Errorf("too many levels of symlink indirection resolving %s", path)
			}
			report.Lnks = append(report.Lnks, candidate)
			if isLast {
				report.FileAccessed = depmodel.WriteYes
			}
			if strings.HasPrefix(target, "/") {
				current = "/"
				remaining = append(splitComponents(target), remaining...)
			} else {
				current = current.Dir()
				remaining = append(splitComponents(target), remaining...)
			}
			continue
		}

		current = candidate
	}

	report.Real = current
	report.FileLoc = r.classify(current)
	return report, nil
}

// applyViewsAndTmp maps a canonical virtual path to the real on-disk path it
// should be stat-ed against, applying tmp remapping and view overlays. The
// returned report's Real field still carries the virtual path, per spec
// ("resolution keeps the virtual path for reporting").
func (r *Resolver) applyViewsAndTmp(virtual depmodel.Path, stat statFunc) string {
	s := string(virtual)

	if r.config.TmpView != "" && (s == r.config.TmpView || strings.HasPrefix(s, r.config.TmpView+"/")) {
		return r.config.TmpDir + strings.TrimPrefix(s, r.config.TmpView)
	}

	for mount, view := range r.config.Views {
		if s == mount || strings.HasPrefix(s, mount+"/") {
			suffix := strings.TrimPrefix(s, mount)
			upperPath := view.Upper + suffix
			if _, _, exists, _ := stat(upperPath); exists {
				return upperPath
			}
			for _, lower := range view.Lower {
				lowerPath := lower + suffix
				if _, _, exists, _ := stat(lowerPath); exists {
					return lowerPath
				}
			}
			return upperPath
		}
	}

	if r.config.RepoRoot != "" {
		return r.config.RepoRoot + s
	}
	return s
}

// classify determines the location class of a canonical virtual path.
func (r *Resolver) classify(virtual depmodel.Path) depmodel.Location {
	s := string(virtual)

	if r.config.TmpView != "" && (s == r.config.TmpView || strings.HasPrefix(s, r.config.TmpView+"/")) {
		return depmodel.LocationInsideTmp
	}
	for _, src := range r.config.SrcDirs {
		if s == src || strings.HasPrefix(s, src+"/") {
			return depmodel.LocationSourceDir
		}
	}
	if _, isView := r.config.Views[s]; isView {
		return depmodel.LocationInsideRepo
	}
	for mount := range r.config.Views {
		if strings.HasPrefix(s, mount+"/") {
			return depmodel.LocationInsideRepo
		}
	}
	if r.config.RepoRoot != "" {
		return depmodel.LocationInsideRepo
	}
	return depmodel.LocationExternal
}

// splitComponents splits a path into non-empty components.
func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
