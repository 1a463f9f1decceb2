// Package depmodel defines the core data model shared by the path resolver,
// tracer, gatherer, and cache: canonical paths, file signatures, content
// digests, access/flag sets, and the access event record that flows from the
// tracer to the gatherer.
package depmodel

import (
	"strings"

	"github.com/pkg/errors"
)

// Location classifies where a canonical path resolves to relative to the
// repository being built.
type Location uint8

const (
	// LocationExternal indicates a path outside the repository and outside
	// any configured source directory.
	LocationExternal Location = iota
	// LocationInsideRepo indicates a path inside the repository proper.
	LocationInsideRepo
	// LocationInsideTmp indicates a path inside a job's private tmp view.
	LocationInsideTmp
	// LocationSourceDir indicates a path inside a configured external
	// read-only source directory.
	LocationSourceDir
)

// String returns a human-readable name for the location class.
func (l Location) String() string {
	switch l {
	case LocationExternal:
		return "external"
	case LocationInsideRepo:
		return "inside-repo"
	case LocationInsideTmp:
		return "inside-tmp"
	case LocationSourceDir:
		return "source-dir"
	default:
		return "unknown"
	}
}

// Path is a canonical, slash-separated, UTF-8 repository-relative path: no
// ".", "..", or empty components, and no trailing slash except for the root
// path itself ("/" or "").
type Path string

// Clean validates that a path is already canonical, returning an error
// describing the first violation found. It performs no normalization; the
// path resolver is responsible for producing canonical paths, and Clean is
// used to assert that invariant at package boundaries and in tests.
func (p Path) Clean() error {
	s := string(p)
	if s == "" || s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return errors.New("path has trailing slash")
	}
	for _, component := range strings.Split(strings.TrimPrefix(s, "/"), "/") {
		switch component {
		case "":
			return errors.New("path has empty component")
		case ".":
			return errors.New("path has '.' component")
		case "..":
			return errors.New("path has '..' component")
		}
	}
	return nil
}

// IsAbsolute reports whether the path is rooted at the repository root.
func (p Path) IsAbsolute() bool {
	return strings.HasPrefix(string(p), "/")
}

// Join joins a path with a single additional component, preserving
// canonical form. It does not resolve "." or "..": callers must pass an
// already-canonical component.
func (p Path) Join(component string) Path {
	if p == "" || p == "/" {
		return Path("/" + component)
	}
	return p + Path("/"+component)
}

// Dir returns the canonical parent of the path, or "/" if the path has no
// parent.
func (p Path) Dir() Path {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return "/"
	}
	return Path(s[:idx])
}

// Base returns the final component of the path.
func (p Path) Base() string {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	return s[idx+1:]
}
