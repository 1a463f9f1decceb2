package tracer

import (
	"debug/elf"
	"os"
	"path/filepath"
	"strings"
)

// sharedLibraryDeps walks an ELF binary's dynamic section and returns the
// set of libraries it may load at startup: DT_NEEDED entries resolved
// against DT_RPATH/DT_RUNPATH where possible, otherwise left as bare
// library names for the gatherer to treat as unresolved. It is used on
// execve exit to pre-seed the dep list with the shared libraries the
// dynamic linker is about to open, since those opens may race the tracer's
// own attach.
func sharedLibraryDeps(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		// Not every execve target is an ELF binary (scripts with a
		// shebang, for instance); that's not an error condition for the
		// tracer, just an empty dep list.
		return nil, nil
	}
	defer f.Close()

	needed, err := f.DynString(elf.DT_NEEDED)
	if err != nil || len(needed) == 0 {
		// A static binary has no dynamic section at all; that's not an
		// error, just nothing to report.
		return nil, nil
	}

	searchDirs, _ := f.DynString(elf.DT_RUNPATH)
	if len(searchDirs) == 0 {
		searchDirs, _ = f.DynString(elf.DT_RPATH)
	}

	deps := make([]string, 0, len(needed))
	for _, name := range needed {
		deps = append(deps, resolveAgainst(name, searchDirs))
	}
	return deps, nil
}

// resolveAgainst returns the first existing candidate found by joining name
// with each directory in searchDirs (which may itself contain "$ORIGIN"
// placeholders we don't attempt to expand), falling back to the bare name.
func resolveAgainst(name string, searchDirs []string) string {
	if strings.Contains(name, "$ORIGIN") {
		return name
	}
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}
