// Package service registers systemd units shipped in a package. Units are
// rendered from the staged template with the final install path substituted,
// written to the scope's unit directory, then enabled via systemctl.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/utils/logger"
	"github.com/lapp-project/lapp/internal/utils/shell"
)

// installPathToken is the placeholder unit templates use for the location
// the package ends up installed at.
const installPathToken = "{{INSTALL_PATH}}"

// Manager registers and controls the systemd unit of one package.
type Manager struct {
	Scope manifest.InstallScope
	Ops   elevate.Ops
}

// NewManager returns a manager for the given scope using ops for writes.
func NewManager(scope manifest.InstallScope, ops elevate.Ops) *Manager {
	return &Manager{Scope: scope, Ops: ops}
}

// UnitPath returns where the unit file for serviceName lives in this scope.
func (mg *Manager) UnitPath(serviceName string) string {
	return filepath.Join(config.SystemdDir(mg.Scope), serviceName+".service")
}

// Register renders the staged unit template and installs and enables it.
// It returns the path of the written unit file. The path comes back even
// when reload or enable fails, since the file is on disk by then and the
// caller must track it for removal.
func (mg *Manager) Register(ctx context.Context, servicesDir, serviceName, installPath string) (string, error) {
	log := logger.Logger()

	templatePath := filepath.Join(servicesDir, serviceName+".service")
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"package declares a service but ships no unit file").WithPath(templatePath)
	}

	unit := strings.ReplaceAll(string(raw), installPathToken, installPath)
	unitPath := mg.UnitPath(serviceName)

	if err := mg.Ops.MkdirAll(ctx, filepath.Dir(unitPath)); err != nil {
		return "", errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to create unit directory").WithPath(filepath.Dir(unitPath))
	}
	if err := mg.Ops.WriteFile(ctx, unitPath, []byte(unit), 0o644); err != nil {
		return "", errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to write unit file").WithPath(unitPath)
	}

	if err := mg.systemctl(ctx, "daemon-reload"); err != nil {
		return unitPath, errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to reload systemd")
	}
	if err := mg.systemctl(ctx, "enable", serviceName+".service"); err != nil {
		return unitPath, errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to enable service %s", serviceName)
	}

	log.Infof("registered service %s at %s", serviceName, unitPath)
	return unitPath, nil
}

// Start starts the service. Failures are reported but the caller treats them
// as non-fatal.
func (mg *Manager) Start(ctx context.Context, serviceName string) error {
	if err := mg.systemctl(ctx, "start", serviceName+".service"); err != nil {
		return errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to start service %s", serviceName)
	}
	return nil
}

// Stop stops the service if it is running. Missing units are not an error.
func (mg *Manager) Stop(ctx context.Context, serviceName string) error {
	if err := mg.systemctl(ctx, "stop", serviceName+".service"); err != nil {
		logger.Logger().Warnf("failed to stop service %s: %v", serviceName, err)
	}
	return nil
}

// Unregister disables the service, removes the unit file, and reloads
// systemd. Each step is attempted even if an earlier one fails.
func (mg *Manager) Unregister(ctx context.Context, serviceName, unitPath string) error {
	log := logger.Logger()

	if err := mg.systemctl(ctx, "disable", serviceName+".service"); err != nil {
		log.Warnf("failed to disable service %s: %v", serviceName, err)
	}

	if unitPath == "" {
		unitPath = mg.UnitPath(serviceName)
	}
	if err := mg.Ops.Remove(ctx, unitPath); err != nil {
		return errdefs.Wrap(errdefs.ServiceRegistrationFailed, err,
			"failed to remove unit file").WithPath(unitPath)
	}

	if err := mg.systemctl(ctx, "daemon-reload"); err != nil {
		log.Warnf("failed to reload systemd after unregistering %s: %v", serviceName, err)
	}

	log.Infof("unregistered service %s", serviceName)
	return nil
}

func (mg *Manager) systemctl(ctx context.Context, args ...string) error {
	if !shell.CommandExists("systemctl") {
		return fmt.Errorf("systemctl is not available on this host")
	}

	argv := []string{"systemctl"}
	if mg.Scope == manifest.ScopeUser {
		argv = append(argv, "--user")
	} else if os.Geteuid() != 0 {
		switch {
		case shell.CommandExists("pkexec"):
			argv = append([]string{"pkexec"}, argv...)
		case shell.CommandExists("sudo"):
			argv = append([]string{"sudo", "-n"}, argv...)
		}
	}
	argv = append(argv, args...)

	output, err := shell.Run(ctx, argv, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", err, output)
	}
	return nil
}
