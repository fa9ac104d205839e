package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the data directory entirely when set.
const HomeEnv = "VIDFED_HOME"

// DataDir is where config, keys and the database live unless a path says
// otherwise: $VIDFED_HOME, else $XDG_CONFIG_HOME/vidfed, else ~/.config/vidfed.
// The directory is created on first use.
func DataDir() (string, error) {
	dir := os.Getenv(HomeEnv)
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locating user config directory: %w", err)
		}
		dir = filepath.Join(base, Name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// ResolveFilePath maps a configured file name onto disk. Absolute paths and
// files present in the working directory win; anything else lands in DataDir,
// whether or not it exists yet.
func ResolveFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	dir, err := DataDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}
