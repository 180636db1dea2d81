// Package uninstall removes an installed package using its recorded
// metadata. Removal deletes only tracked paths, refuses to touch critical
// system locations, and keeps going past individual failures so a partial
// uninstall can be retried. The metadata record is deleted last.
package uninstall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/desktop"
	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/metadata"
	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/service"
	"github.com/lapp-project/lapp/internal/utils/logger"
	"github.com/lapp-project/lapp/internal/utils/shell"
)

const scriptTimeout = 5 * time.Minute

// criticalRoots are directories the engine must never treat as an install
// path, whatever the metadata says.
var criticalRoots = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/lib64",
	"/proc", "/root", "/run", "/sbin", "/sys", "/usr", "/var",
}

// Options tune one uninstallation run.
type Options struct {
	// KeepUserData skips nothing today; reserved for config/data dirs once
	// packages declare them separately from the payload.
	KeepUserData bool
}

// Result reports a completed uninstallation.
type Result struct {
	Record   *metadata.Record
	Warnings []string
}

// Uninstaller removes installed packages. Emitter is optional.
type Uninstaller struct {
	Config  *config.GlobalConfig
	Emitter *progress.Emitter
	// Ops overrides the filesystem backend. Nil selects direct or
	// elevated operations from the record's scope.
	Ops elevate.Ops
}

// New returns an uninstaller using cfg, which may be nil for defaults.
func New(cfg *config.GlobalConfig, emitter *progress.Emitter) *Uninstaller {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Uninstaller{Config: cfg, Emitter: emitter}
}

// Uninstall removes the named package. It looks the package up in the user
// store first, then the system store.
func (un *Uninstaller) Uninstall(ctx context.Context, name string, opts Options) (*Result, error) {
	store, rec, err := un.locate(name)
	if err != nil {
		return nil, err
	}

	lock, err := store.AcquireLock(name, "uninstall")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := validateRemovalPath(rec.InstallPath); err != nil {
		return nil, err
	}

	log := logger.Logger()
	log.Infof("uninstalling %s %s from %s", rec.PackageName, rec.PackageVersion, rec.InstallPath)

	ops := un.Ops
	if ops == nil {
		ops = elevate.ForScope(rec.Scope)
	}
	var warnings []string
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		log.Warnf("%s", msg)
		un.Emitter.Logf("warning: %s", msg)
		warnings = append(warnings, msg)
	}

	svc := service.NewManager(rec.Scope, ops)
	if rec.ServiceName != "" {
		un.Emitter.Progress(progress.PhaseStoppingService, 0, 1, "stopping service")
		svc.Stop(ctx, rec.ServiceName)
	}

	if rec.PreUninstall != "" {
		un.Emitter.Progress(progress.PhasePreUninstall, 0, 1, "running pre-uninstall script")
		if err := runPreUninstall(ctx, rec); err != nil {
			warn("pre-uninstall script failed: %v", err)
		}
	}

	removed, failed := un.removeFiles(ctx, ops, rec)
	if failed > 0 {
		warn("%d of %d files could not be removed; rerun uninstall to retry", failed, removed+failed)
	}

	un.removeDirs(ctx, ops, rec)

	un.Emitter.Progress(progress.PhaseRemovingArtifacts, 0, 1, "removing integration artifacts")
	for _, link := range rec.Symlinks {
		if err := ops.Remove(ctx, link); err != nil {
			warn("could not remove symlink %s: %v", link, err)
		}
	}
	if rec.DesktopEntry != "" {
		dsk := desktop.NewManager(rec.Scope, ops)
		if err := dsk.Remove(ctx, rec.DesktopEntry); err != nil {
			warn("could not remove desktop entry: %v", err)
		}
	}
	if rec.ServiceName != "" {
		if err := svc.Unregister(ctx, rec.ServiceName, rec.ServiceUnit); err != nil {
			warn("service unregistration failed: %v", err)
		}
	}

	if err := store.Delete(rec.PackageName); err != nil {
		return nil, err
	}

	un.Emitter.Progress(progress.PhaseCompleted, 1, 1,
		fmt.Sprintf("%s %s uninstalled", rec.PackageName, rec.PackageVersion))
	log.Infof("uninstalled %s %s", rec.PackageName, rec.PackageVersion)
	return &Result{Record: rec, Warnings: warnings}, nil
}

// locate finds the install record for name, preferring the user store.
func (un *Uninstaller) locate(name string) (*metadata.Store, *metadata.Record, error) {
	userStore := metadata.NewStore(un.Config.StateDir(manifest.ScopeUser))
	if rec, err := userStore.Load(name); err == nil {
		return userStore, rec, nil
	} else if !errdefs.IsKind(err, errdefs.PackageNotInstalled) {
		return nil, nil, err
	}

	systemStore := metadata.NewStore(un.Config.StateDir(manifest.ScopeSystem))
	rec, err := systemStore.Load(name)
	if err != nil {
		return nil, nil, err
	}
	return systemStore, rec, nil
}

// removeFiles deletes every tracked file, counting failures instead of
// aborting so reruns can finish the job.
func (un *Uninstaller) removeFiles(ctx context.Context, ops elevate.Ops, rec *metadata.Record) (removed, failed int) {
	total := len(rec.InstalledFiles)
	un.Emitter.Progress(progress.PhaseRemovingFiles, 0, total, "removing files")

	for i, f := range rec.InstalledFiles {
		if !strings.HasPrefix(f, rec.InstallPath+string(filepath.Separator)) && f != rec.InstallPath {
			logger.Logger().Warnf("skipping tracked file outside install path: %s", f)
			failed++
			continue
		}
		if err := ops.Remove(ctx, f); err != nil {
			logger.Logger().Warnf("could not remove %s: %v", f, err)
			failed++
			continue
		}
		removed++
		un.Emitter.Progress(progress.PhaseRemovingFiles, i+1, total, f)
	}
	return removed, failed
}

// removeDirs prunes now-empty directories under the install path, deepest
// first, finishing with the install path itself.
func (un *Uninstaller) removeDirs(ctx context.Context, ops elevate.Ops, rec *metadata.Record) {
	dirSet := map[string]struct{}{}
	prefix := rec.InstallPath + string(filepath.Separator)
	for _, f := range rec.InstalledFiles {
		dir := filepath.Dir(f)
		for dir == rec.InstallPath || strings.HasPrefix(dir, prefix) {
			dirSet[dir] = struct{}{}
			if dir == rec.InstallPath {
				break
			}
			dir = filepath.Dir(dir)
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, d := range dirs {
		if err := ops.RemoveEmptyDir(ctx, d); err != nil {
			logger.Logger().Debugf("could not prune directory %s: %v", d, err)
		}
	}
}

// validateRemovalPath rejects install paths whose removal could damage the
// host: critical roots, the home directory itself, and anything shallower
// than three components.
func validateRemovalPath(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return errdefs.New(errdefs.MetadataCorrupted,
			"install record has an invalid install path %q", path)
	}

	clean := filepath.Clean(path)
	for _, root := range criticalRoots {
		if clean == root {
			return errdefs.New(errdefs.ValidationError,
				"refusing to remove critical system path").WithPath(clean)
		}
	}

	if home, err := os.UserHomeDir(); err == nil && clean == filepath.Clean(home) {
		return errdefs.New(errdefs.ValidationError,
			"refusing to remove the home directory").WithPath(clean)
	}

	if strings.Count(clean, string(filepath.Separator)) < 2 {
		return errdefs.New(errdefs.ValidationError,
			"refusing to remove a path this close to the filesystem root").WithPath(clean)
	}
	return nil
}

// runPreUninstall executes the script preserved at install time.
func runPreUninstall(ctx context.Context, rec *metadata.Record) error {
	if _, err := os.Stat(rec.PreUninstall); err != nil {
		return fmt.Errorf("pre-uninstall script missing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"INSTALL_PATH=" + rec.InstallPath,
	}
	output, err := shell.Run(ctx, []string{rec.PreUninstall}, env)
	if err != nil {
		return fmt.Errorf("%w: %s", err, output)
	}
	return nil
}
