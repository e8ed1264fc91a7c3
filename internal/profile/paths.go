// Package profile resolves the on-disk layout of local profiles. A profile
// is one account's worth of local state: preference database, lock file and
// logs, all under ~/.tchat/profiles/<name>.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.tchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tchat")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// PrefsDBPath returns the preference database path for a profile.
func PrefsDBPath(name string) string {
	return filepath.Join(Dir(name), "prefs.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "tchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
