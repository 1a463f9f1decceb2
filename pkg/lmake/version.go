// Package lmake holds build-wide identity constants shared by the autodep,
// gatherer, and cache packages (on-disk and wire format versions, and the
// engine's own version string).
package lmake

import "fmt"

const (
	// VersionMajor is the current major version of the core engine.
	VersionMajor = 0
	// VersionMinor is the current minor version of the core engine.
	VersionMinor = 1
	// VersionPatch is the current patch version of the core engine.
	VersionPatch = 0

	// CacheFormatVersion is the first byte written to every on-disk cache
	// "info"/"deps"/"lru" record (spec §6: "the first byte is a format
	// version"). Bumping it invalidates every existing cache entry.
	CacheFormatVersion = 1

	// WireFormatVersion identifies the framing used between the tracer and
	// the gatherer (spec §6).
	WireFormatVersion = 1
)

// Version is the human-readable engine version string.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
