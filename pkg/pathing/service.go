package pathing

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultDataDir   = "/var/lib/p1_gridmeter"
	defaultConfigDir = "/etc/p1_gridmeter"
)

// EnsureDirs creates the directories the services write to.
// Must be called on startup, before config or database access.
func EnsureDirs() error {
	for _, dir := range []string{GetDataDir(), GetConfigDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "p1-grid.db")
}

// GetDataDir can be moved with P1_DATA_DIR.
func GetDataDir() string {
	if dir := os.Getenv("P1_DATA_DIR"); dir != "" {
		return dir
	}
	return defaultDataDir
}

// GetConfigDir can be moved with P1_CONFIG_DIR.
func GetConfigDir() string {
	if dir := os.Getenv("P1_CONFIG_DIR"); dir != "" {
		return dir
	}
	return defaultConfigDir
}
