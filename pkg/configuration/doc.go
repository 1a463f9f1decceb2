// Package configuration provides loading facilities for the engine's
// YAML-based repository configuration: source directories, view overlays,
// tracer method selection, gatherer timeouts, and cache placement. An
// optional sibling ".env" file may overlay process environment variables
// referenced from the configuration (e.g. in cache.root) before it is
// parsed.
package configuration
