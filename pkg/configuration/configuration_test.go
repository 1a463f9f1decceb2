package configuration

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigurationGibberish = "src_dirs: [this is not: valid: yaml"

const testConfigurationValid = `
src_dirs:
  - src
  - vendor/third_party

views:
  /view/build:
    upper: /repo/build
    lower:
      - /repo/src
      - /repo/generated

tmp_dir: /repo/.lmake/tmp
tmp_view: /tmp

tracer:
  method: ptrace
  network_delay: 100ms
  date_resolution: 10ms

gatherer:
  timeout: 5m
  kill_signals: ["TERM", "KILL"]
  as_session: true

cache:
  root: /var/cache/lmake
  size_max: 10GB
`

func TestLoadNonExistent(t *testing.T) {
	c, err := loadFromPath("/this/does/not/exist")
	if err != nil {
		t.Fatal("load from non-existent path failed:", err)
	} else if c == nil {
		t.Error("load from non-existent path returned nil configuration")
	}
}

func TestLoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal("unable to create temporary file:", err)
	}

	if c, err := loadFromPath(path); err != nil {
		t.Error("load from empty file failed:", err)
	} else if c == nil {
		t.Error("load from empty file returned nil configuration")
	}
}

func TestLoadGibberish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigurationGibberish), 0o600); err != nil {
		t.Fatal("unable to write temporary file:", err)
	}

	if _, err := loadFromPath(path); err == nil {
		t.Error("load did not fail on gibberish configuration")
	}
}

func TestLoadDirectory(t *testing.T) {
	directory := t.TempDir()
	if _, err := loadFromPath(directory); err == nil {
		t.Error("load did not fail on directory path")
	}
}

func TestLoadValidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigurationValid), 0o600); err != nil {
		t.Fatal("unable to write temporary file:", err)
	}

	c, err := loadFromPath(path)
	if err != nil {
		t.Fatal("load from valid configuration failed:", err)
	}

	if len(c.SrcDirs) != 2 || c.SrcDirs[0] != "src" {
		t.Error("src_dirs not parsed as expected:", c.SrcDirs)
	}
	view, ok := c.Views["/view/build"]
	if !ok {
		t.Fatal("expected view not present")
	}
	if view.Upper != "/repo/build" || len(view.Lower) != 2 {
		t.Error("view overlay not parsed as expected:", view)
	}
	if c.Tracer.Method != "ptrace" {
		t.Error("tracer method not parsed as expected:", c.Tracer.Method)
	}
	if c.Tracer.NetworkDelay.Duration().String() != "100ms" {
		t.Error("network_delay not parsed as expected:", c.Tracer.NetworkDelay.Duration())
	}
	if c.Gatherer.Timeout.Duration().String() != "5m0s" {
		t.Error("gatherer timeout not parsed as expected:", c.Gatherer.Timeout.Duration())
	}
	if len(c.Gatherer.KillSignals) != 2 || c.Gatherer.KillSignals[1] != "KILL" {
		t.Error("kill_signals not parsed as expected:", c.Gatherer.KillSignals)
	}
	if uint64(c.Cache.SizeMax) != 10_000_000_000 {
		t.Error("cache size_max not parsed as expected:", c.Cache.SizeMax)
	}
}

func TestLoadWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	envPath := path + ".env"

	if err := os.WriteFile(envPath, []byte("LMAKE_CACHE_ROOT=/srv/cache\n"), 0o600); err != nil {
		t.Fatal("unable to write env overlay:", err)
	}
	if err := os.WriteFile(path, []byte("cache:\n  root: ${LMAKE_CACHE_ROOT}/lmake\n"), 0o600); err != nil {
		t.Fatal("unable to write configuration file:", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal("load failed:", err)
	}
	if c.Cache.Root != "/srv/cache/lmake" {
		t.Error("env overlay not applied to configuration:", c.Cache.Root)
	}
}
