// Package platform resolves per-OS directories for the depthmask server's
// config, database and rendered output.
package platform

import (
	"os"
	"path/filepath"
)

// AppName is the application name used for directory naming
const AppName = "depthmask"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Depthmask"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Depthmask
// macOS: ~/Library/Application Support/Depthmask
// Linux: $XDG_DATA_HOME/depthmask or ~/.local/share/depthmask
func GetDataDir() string {
	return getDataDir()
}

// GetOutputDir returns the default directory composites are written to,
// ~/Pictures/depthmask.
func GetOutputDir() string {
	return filepath.Join(UserHomeDir(), "Pictures", AppName)
}

// UserHomeDir returns the user's home directory with proper fallbacks.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
