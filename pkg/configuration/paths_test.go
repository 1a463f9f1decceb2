package configuration

import (
	"testing"
)

// TestDefaultConfigurationPath tests that DefaultConfigurationPath succeeds
// and returns a non-empty path.
func TestDefaultConfigurationPath(t *testing.T) {
	path, err := DefaultConfigurationPath("/repo")
	if err != nil {
		t.Fatal("unable to compute default configuration path:", err)
	} else if path == "" {
		t.Error("default configuration path is empty")
	}
}

func TestDefaultConfigurationPathEmptyRoot(t *testing.T) {
	if _, err := DefaultConfigurationPath(""); err == nil {
		t.Error("empty repository root unexpectedly accepted")
	}
}
