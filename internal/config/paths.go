package config

import (
	"os"
	"path/filepath"

	"github.com/lapp-project/lapp/internal/manifest"
)

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/root"
}

// DefaultInstallPath returns the install root used when neither manifest
// nor caller override one: ~/.local/share/<name> for user scope,
// /opt/<name> for system scope.
func DefaultInstallPath(scope manifest.InstallScope, name string) string {
	if scope == manifest.ScopeSystem {
		return filepath.Join("/opt", name)
	}
	return filepath.Join(homeDir(), ".local", "share", name)
}

// StateDir returns the directory holding install metadata records for the
// given scope, honoring config overrides.
func (c *GlobalConfig) StateDir(scope manifest.InstallScope) string {
	if scope == manifest.ScopeSystem {
		if c != nil && c.StateDirSystem != "" {
			return c.StateDirSystem
		}
		return "/var/lib/lapp/installed"
	}
	if c != nil && c.StateDirUser != "" {
		return c.StateDirUser
	}
	return filepath.Join(homeDir(), ".local", "share", "lapp", "installed")
}

// DesktopDir returns where .desktop files are registered for the scope.
func DesktopDir(scope manifest.InstallScope) string {
	if scope == manifest.ScopeSystem {
		return "/usr/share/applications"
	}
	return filepath.Join(homeDir(), ".local", "share", "applications")
}

// SystemdDir returns where service unit files are registered for the scope.
func SystemdDir(scope manifest.InstallScope) string {
	if scope == manifest.ScopeSystem {
		return "/etc/systemd/system"
	}
	return filepath.Join(homeDir(), ".config", "systemd", "user")
}

// BinDir returns where entry-binary symlinks are placed for the scope.
func BinDir(scope manifest.InstallScope) string {
	if scope == manifest.ScopeSystem {
		return "/usr/local/bin"
	}
	return filepath.Join(homeDir(), ".local", "bin")
}
