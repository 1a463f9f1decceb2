package configuration

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultConfigurationName is the name of the configuration file the engine
// looks for at the root of a repository when no explicit path is given.
const DefaultConfigurationName = ".lmake.yaml"

// DefaultConfigurationPath returns the path of the default repository
// configuration file given the repository's root directory. It does not
// verify that the file exists.
func DefaultConfigurationPath(repositoryRoot string) (string, error) {
	if repositoryRoot == "" {
		return "", errors.New("empty repository root")
	}
	return filepath.Join(repositoryRoot, DefaultConfigurationName), nil
}
