package pathresolve

import (
	"testing"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

// fakeFS is a tiny in-memory filesystem used to drive Resolver.solveWith
// without touching the real filesystem: a set of real (non-symlink) paths
// and a map of symlink paths to their targets.
type fakeFS struct {
	real     map[string]bool
	symlinks map[string]string
}

func (f *fakeFS) stat(path string) (bool, string, bool, error) {
	if target, ok := f.symlinks[path]; ok {
		return true, target, true, nil
	}
	if f.real[path] {
		return false, "", true, nil
	}
	return false, "", false, nil
}

func newResolver(config Config) *Resolver {
	return New(config, logging.RootLogger)
}

func TestSolveBasicJoin(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{"/repo/src": true, "/repo/src/main.go": true}}
	r := newResolver(Config{RepoRoot: "/repo"})

	report, err := r.solveWith("", "src/main.go", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.Real != "/src/main.go" {
		t.Errorf("unexpected Real: %s", report.Real)
	}
	if report.FileLoc != depmodel.LocationInsideRepo {
		t.Errorf("unexpected FileLoc: %v", report.FileLoc)
	}
}

func TestSolveFollowsSymlink(t *testing.T) {
	fs := &fakeFS{
		real: map[string]bool{"/repo/real.go": true},
		symlinks: map[string]string{
			"/repo/link.go": "real.go",
		},
	}
	r := newResolver(Config{RepoRoot: "/repo"})

	report, err := r.solveWith("", "link.go", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.Real != "/real.go" {
		t.Errorf("expected symlink to be followed to /real.go, got %s", report.Real)
	}
	if len(report.Lnks) != 1 || report.Lnks[0] != "/link.go" {
		t.Errorf("expected /link.go recorded as a traversed symlink, got %v", report.Lnks)
	}
}

func TestSolveNoFollowStopsAtTerminalSymlink(t *testing.T) {
	fs := &fakeFS{
		real: map[string]bool{"/repo/real.go": true},
		symlinks: map[string]string{
			"/repo/link.go": "real.go",
		},
	}
	r := newResolver(Config{RepoRoot: "/repo"})

	report, err := r.solveWith("", "link.go", true, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.Real != "/link.go" {
		t.Errorf("expected no_follow to stop at the symlink itself, got %s", report.Real)
	}
}

func TestSolveAbsoluteSymlinkRestartsAtRoot(t *testing.T) {
	fs := &fakeFS{
		real: map[string]bool{"/repo/other/real.go": true},
		symlinks: map[string]string{
			"/repo/link.go": "/other/real.go",
		},
	}
	r := newResolver(Config{RepoRoot: "/repo"})

	report, err := r.solveWith("", "link.go", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.Real != "/other/real.go" {
		t.Errorf("expected absolute symlink target to restart at root, got %s", report.Real)
	}
}

func TestSolveDetectsSymlinkCycle(t *testing.T) {
	fs := &fakeFS{
		symlinks: map[string]string{
			"/repo/a": "b",
			"/repo/b": "a",
		},
	}
	r := newResolver(Config{RepoRoot: "/repo"})

	if _, err := r.solveWith("", "a", false, fs.stat); err == nil {
		t.Error("expected a cyclic symlink chain to be rejected")
	}
}

func TestSolveTmpRemapping(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{"/var/job-tmp/scratch": true}}
	r := newResolver(Config{
		RepoRoot: "/repo",
		TmpView:  "/tmp",
		TmpDir:   "/var/job-tmp",
	})

	report, err := r.solveWith("", "/tmp/scratch", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.FileLoc != depmodel.LocationInsideTmp {
		t.Errorf("expected InsideTmp location, got %v", report.FileLoc)
	}
	if report.Real != "/tmp/scratch" {
		t.Errorf("expected virtual path preserved in Real, got %s", report.Real)
	}
}

func TestSolveViewOverlayPrefersUpper(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{
		"/upper/file.txt": true,
		"/lower/file.txt": true,
	}}
	r := newResolver(Config{
		RepoRoot: "/repo",
		Views: map[string]View{
			"/view": {Upper: "/upper", Lower: []string{"/lower"}},
		},
	})

	real := r.applyViewsAndTmp("/view/file.txt", fs.stat)
	if real != "/upper/file.txt" {
		t.Errorf("expected upper layer preferred, got %s", real)
	}
}

func TestSolveViewOverlayFallsBackToLower(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{"/lower/file.txt": true}}
	_ = fs
	r := newResolver(Config{
		RepoRoot: "/repo",
		Views: map[string]View{
			"/view": {Upper: "/upper", Lower: []string{"/lower"}},
		},
	})

	real := r.applyViewsAndTmp("/view/file.txt", fs.stat)
	if real != "/lower/file.txt" {
		t.Errorf("expected fallback to lower layer, got %s", real)
	}
}

func TestSolveSourceDirClassification(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{"/ext/libfoo/foo.h": true}}
	r := newResolver(Config{
		RepoRoot: "/repo",
		SrcDirs:  []string{"/ext/libfoo"},
	})

	report, err := r.solveWith("", "/ext/libfoo/foo.h", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.FileLoc != depmodel.LocationSourceDir {
		t.Errorf("expected SourceDir classification, got %v", report.FileLoc)
	}
}

// TestSolveRoundTrip verifies the round-trip invariant: resolving the Real
// path produced by a prior resolution must reproduce the same Real path.
func TestSolveRoundTrip(t *testing.T) {
	fs := &fakeFS{
		real: map[string]bool{"/repo/a/b/real.go": true},
		symlinks: map[string]string{
			"/repo/a/link.go": "b/real.go",
		},
	}
	r := newResolver(Config{RepoRoot: "/repo"})

	first, err := r.solveWith("", "a/link.go", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}

	second, err := r.solveWith("", string(first.Real), false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}

	if first.Real != second.Real {
		t.Errorf("round-trip invariant violated: %s != %s", first.Real, second.Real)
	}
}

func TestChdirAffectsRelativeSolve(t *testing.T) {
	fs := &fakeFS{real: map[string]bool{"/repo/sub/file.go": true}}
	r := newResolver(Config{RepoRoot: "/repo"})

	if err := r.Chdir("/sub"); err != nil {
		t.Fatal(err)
	}
	if r.Cwd() != "/sub" {
		t.Fatalf("unexpected cwd: %s", r.Cwd())
	}

	report, err := r.solveWith("", "file.go", false, fs.stat)
	if err != nil {
		t.Fatal(err)
	}
	if report.Real != "/sub/file.go" {
		t.Errorf("expected relative solve against chdir-ed cwd, got %s", report.Real)
	}
}
