package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/kurtosis-tech/stacktrace"
)

const (
	beaconDirpathEnvVar  = "BEACON_DIRPATH"
	defaultBeaconDirname = ".beacon"

	StatusCacheDirname = "status-cache"
	LogFilename        = "beacon.log"
	ProjectsDirname    = "projects"

	ConfigFilename       = "beacon.yml"
	HiddenConfigFilename = ".beacon.yml"

	DefaultCredentialFilename = ".credentials.json"

	StatuslineMessageFilename = "statusline-message"
)

// GetBeaconDirpath returns the beacon state directory path, reading from
// the BEACON_DIRPATH environment variable or defaulting to ~/.beacon.
func GetBeaconDirpath() (string, error) {
	if envVal := os.Getenv(beaconDirpathEnvVar); envVal != "" {
		return envVal, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", stacktrace.Propagate(err, "failed to determine home directory")
	}
	return filepath.Join(homeDir, defaultBeaconDirname), nil
}

// EnsureDirStructure creates the required beacon directory structure if it
// doesn't already exist.
func EnsureDirStructure(beaconDirpath string) error {
	dirs := []string{
		filepath.Join(beaconDirpath, StatusCacheDirname),
		filepath.Join(beaconDirpath, ProjectsDirname),
	}
	for _, dirpath := range dirs {
		if err := os.MkdirAll(dirpath, 0755); err != nil {
			return stacktrace.Propagate(err, "failed to create directory '%s'", dirpath)
		}
	}
	return nil
}

// GetStatusCacheDirpath returns the path to the directory holding per-endpoint
// status cache files.
func GetStatusCacheDirpath(beaconDirpath string) string {
	return filepath.Join(beaconDirpath, StatusCacheDirname)
}

// GetLogFilepath returns the path to the beacon log file. The statusline
// driver logs here because stdout belongs to the rendering layer.
func GetLogFilepath(beaconDirpath string) string {
	return filepath.Join(beaconDirpath, LogFilename)
}

// GetProjectDirpath returns the per-project state directory, keyed by a hash
// of the project root path so unrelated projects never collide.
func GetProjectDirpath(beaconDirpath string, projectRootPath string) string {
	return filepath.Join(beaconDirpath, ProjectsDirname, ProjectKey(projectRootPath))
}

// GetStatuslineMessageFilepath returns the path to the per-project statusline
// message file. When non-empty, its contents are surfaced to the renderer
// ahead of the computed status.
func GetStatuslineMessageFilepath(beaconDirpath string, projectRootPath string) string {
	return filepath.Join(GetProjectDirpath(beaconDirpath, projectRootPath), StatuslineMessageFilename)
}

// ProjectKey derives a stable filesystem-safe key from a project root path.
func ProjectKey(projectRootPath string) string {
	sum := sha256.Sum256([]byte(projectRootPath))
	return hex.EncodeToString(sum[:8])
}
