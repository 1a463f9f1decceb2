package configuration

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ViewConfiguration describes a single view overlay: an upper directory
// (writable, searched first) stacked over one or more lower directories
// (read-only, searched in order) to form a single logical mount point that
// the path resolver presents to traced jobs.
type ViewConfiguration struct {
	// Upper is the writable directory at the top of the view.
	Upper string `yaml:"upper"`
	// Lower lists the read-only directories backing the view, searched in
	// order after Upper.
	Lower []string `yaml:"lower"`
}

// TracerConfiguration controls how the tracer intercepts a job's file
// accesses.
type TracerConfiguration struct {
	// Method selects the interposition technique: "ptrace", "ld-audit", or
	// "ld-preload" (an empty value selects ptrace).
	Method string `yaml:"method"`
	// NetworkDelay is added to every timeout computation to account for
	// accesses to networked filesystems, which can lag behind local ones.
	NetworkDelay Duration `yaml:"network_delay"`
	// DateResolution is the granularity at which the underlying filesystem
	// records modification times; file signatures older than this margin
	// relative to the current time are never considered reliable for reuse.
	DateResolution Duration `yaml:"date_resolution"`
}

// GathererConfiguration controls the reactor that collects access events
// from a running job.
type GathererConfiguration struct {
	// Timeout is the maximum duration the gatherer waits for a job to
	// complete before marking it Killed and arming the kill cascade.
	Timeout Duration `yaml:"timeout"`
	// KillSignals is the cascade of signals sent to a job being killed,
	// applied in order with escalating force (e.g. ["TERM", "KILL"]).
	KillSignals []string `yaml:"kill_signals"`
	// AsSession runs the traced job in its own session, so that the entire
	// process group can be signaled as a unit when it must be killed.
	AsSession bool `yaml:"as_session"`
}

// CacheConfiguration controls the on-disk content-addressed job cache.
type CacheConfiguration struct {
	// Root is the cache's root directory.
	Root string `yaml:"root"`
	// SizeMax is the maximum total size the cache is allowed to occupy on
	// disk before the LRU eviction pass runs.
	SizeMax ByteSize `yaml:"size_max"`
}

// Configuration is the root of the engine's repository configuration.
type Configuration struct {
	// SrcDirs lists the repository's source directories, i.e. directories
	// holding files that are never regenerated by a job.
	SrcDirs []string `yaml:"src_dirs"`
	// Views maps view mount points to their overlay configuration.
	Views map[string]ViewConfiguration `yaml:"views"`
	// TmpDir is the real directory backing each job's private tmp view.
	TmpDir string `yaml:"tmp_dir"`
	// TmpView is the path at which a job observes its private tmp directory,
	// regardless of where TmpDir actually lives on disk.
	TmpView string `yaml:"tmp_view"`
	// Tracer configures syscall interception.
	Tracer TracerConfiguration `yaml:"tracer"`
	// Gatherer configures access-event collection.
	Gatherer GathererConfiguration `yaml:"gatherer"`
	// Cache configures the content-addressed job cache.
	Cache CacheConfiguration `yaml:"cache"`
}

// loadFromPath loads and parses a YAML configuration file at the specified
// path, returning a zero-value Configuration (not an error) if the file does
// not exist.
func loadFromPath(path string) (*Configuration, error) {
	result := &Configuration{}

	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return result, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	contents = []byte(os.ExpandEnv(string(contents)))

	if err := yaml.Unmarshal(contents, result); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}

	return result, nil
}

// Load loads the repository configuration at path. If a sibling "<path>.env"
// file exists, its KEY=VALUE pairs are exported into the process environment
// (without overwriting variables already set) before the configuration file
// is read, so that $VAR references embedded in string fields such as
// cache.root resolve against it.
func Load(path string) (*Configuration, error) {
	envPath := path + ".env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, errors.Wrap(err, "unable to load environment overlay")
		}
	}

	return loadFromPath(path)
}
