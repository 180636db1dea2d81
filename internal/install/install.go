// Package install orchestrates the full installation pipeline: extract,
// verify, preflight, transactional copy, and the post-copy integration steps
// (permissions, scripts, service, desktop entry, symlinks, metadata).
//
// The copy phase is all-or-nothing: any failure rolls back every file
// written so far. Steps after the copy are best effort and surface as
// warnings on the result instead of failing the install.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/desktop"
	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/extract"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/metadata"
	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/service"
	"github.com/lapp-project/lapp/internal/utils/fsutil"
	"github.com/lapp-project/lapp/internal/utils/logger"
	"github.com/lapp-project/lapp/internal/utils/shell"
	"github.com/lapp-project/lapp/internal/verify"
)

// scriptTimeout bounds package hook scripts so a wedged post-install hook
// cannot hang the engine.
const scriptTimeout = 5 * time.Minute

// Options tune one installation run.
type Options struct {
	// InstallPath overrides the manifest's install path.
	InstallPath string
	// SkipSignature waives mandatory signature verification.
	SkipSignature bool
	// StartService starts the registered service after enabling it.
	StartService bool
	// NoDesktopEntry suppresses application-menu registration.
	NoDesktopEntry bool
	// Workers overrides the configured copy concurrency.
	Workers int
}

// Result reports a completed installation.
type Result struct {
	Record   *metadata.Record
	Warnings []string
}

// Installer runs installations. Emitter is optional.
type Installer struct {
	Config  *config.GlobalConfig
	Emitter *progress.Emitter
}

// New returns an installer using cfg, which may be nil for defaults.
func New(cfg *config.GlobalConfig, emitter *progress.Emitter) *Installer {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Installer{Config: cfg, Emitter: emitter}
}

// Install installs the package archive at archivePath. Cancellation via ctx
// is honored up to the start of the copy phase; once files are being written
// the transaction runs to completion or rollback.
func (in *Installer) Install(ctx context.Context, archivePath string, opts Options) (*Result, error) {
	log := logger.Logger()

	extractor := &extract.Extractor{Emitter: in.Emitter}
	pkg, err := extractor.Extract(ctx, archivePath, in.Config.TempRoot())
	if err != nil {
		return nil, err
	}
	defer pkg.Staging.Close()

	m := pkg.Manifest
	log.Infof("installing %s %s (scope %s)", m.Name, m.PackageVersion, m.InstallScope)

	in.Emitter.Progress(progress.PhaseVerifying, 0, 1, "verifying package integrity")
	verifier := &verify.Verifier{
		KeyringDir:       in.Config.KeyringDir,
		RequireSignature: !opts.SkipSignature,
	}
	if err := verifier.VerifyPackage(pkg); err != nil {
		return nil, err
	}
	in.Emitter.Progress(progress.PhaseVerifying, 1, 1, "package verified")

	installPath, err := resolveInstallPath(m, opts.InstallPath)
	if err != nil {
		return nil, err
	}

	store := metadata.NewStore(in.Config.StateDir(m.InstallScope))
	if existing, err := store.Load(m.Name); err == nil {
		return nil, errdefs.New(errdefs.TargetPathExists,
			"package %s is already installed (version %s); uninstall it first",
			m.Name, existing.PackageVersion).WithPath(existing.InstallPath)
	} else if !errdefs.IsKind(err, errdefs.PackageNotInstalled) {
		return nil, err
	}

	lock, err := store.AcquireLock(m.Name, "install")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := in.preflight(ctx, pkg, installPath); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.IoError, err, "installation canceled before any file was written")
	}

	ops := elevate.ForScope(m.InstallScope)

	txn := newCopyTxn(ops, in.Emitter, in.workers(opts))
	if err := txn.copyPayload(ctx, pkg.Staging.PayloadDir(), installPath); err != nil {
		txn.rollback(ctx)
		return nil, err
	}

	rec := metadata.NewRecord(m, installPath)
	rec.InstalledFiles = txn.files()

	var warnings []string
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		log.Warnf("%s", msg)
		in.Emitter.Logf("warning: %s", msg)
		warnings = append(warnings, msg)
	}

	in.Emitter.Progress(progress.PhaseSettingPermissions, 0, 1, "setting permissions")
	if m.Entry != "" {
		entryPath := filepath.Join(installPath, m.Entry)
		if err := ops.Chmod(ctx, entryPath, 0o755); err != nil {
			txn.rollback(ctx)
			return nil, errdefs.Wrap(errdefs.IoError, err,
				"failed to mark entry binary executable").WithPath(entryPath)
		}
	}

	if m.PreUninstall != "" {
		kept, err := in.keepPreUninstall(ctx, ops, pkg, installPath)
		if err != nil {
			warn("could not preserve pre-uninstall script: %v", err)
		} else {
			rec.PreUninstall = kept
			rec.InstalledFiles = append(rec.InstalledFiles, kept)
		}
	}

	if m.PostInstall != "" {
		in.Emitter.Progress(progress.PhasePostInstallScript, 0, 1, "running post-install script")
		if err := in.runScript(ctx, pkg.Staging.Root(), m.PostInstall, installPath); err != nil {
			warn("post-install script failed: %v", err)
		}
	}

	if m.Service {
		in.Emitter.Progress(progress.PhaseRegisteringService, 0, 1, "registering service")
		svc := service.NewManager(m.InstallScope, ops)
		unitPath, err := svc.Register(ctx, pkg.Staging.ServicesDir(), m.GetServiceName(), installPath)
		if unitPath != "" {
			// The unit file exists even when enabling failed; track it so
			// uninstall can remove it.
			rec.ServiceUnit = unitPath
			rec.ServiceName = m.GetServiceName()
		}
		if err != nil {
			warn("service registration failed: %v", err)
		} else if opts.StartService {
			if err := svc.Start(ctx, m.GetServiceName()); err != nil {
				warn("service start failed: %v", err)
			}
		}
	}

	if m.Desktop != nil && !opts.NoDesktopEntry {
		in.Emitter.Progress(progress.PhaseRegisteringDesktop, 0, 1, "registering desktop entry")
		dsk := desktop.NewManager(m.InstallScope, ops)
		entryPath, err := dsk.Register(ctx, m, installPath)
		if err != nil {
			warn("desktop entry registration failed: %v", err)
		} else {
			rec.DesktopEntry = entryPath
		}
	}

	if m.Entry != "" {
		in.Emitter.Progress(progress.PhaseLinkingBinaries, 0, 1, "linking entry binary")
		link := filepath.Join(config.BinDir(m.InstallScope), m.Name)
		target := filepath.Join(installPath, m.Entry)
		if err := ops.MkdirAll(ctx, filepath.Dir(link)); err != nil {
			warn("could not create bin directory: %v", err)
		} else if err := ops.Symlink(ctx, target, link); err != nil {
			warn("could not link entry binary: %v", err)
		} else {
			rec.Symlinks = append(rec.Symlinks, link)
		}
	}

	if err := store.Save(rec); err != nil {
		in.unwindIntegration(ctx, ops, rec)
		txn.rollback(ctx)
		return nil, err
	}

	in.Emitter.Progress(progress.PhaseCompleted, 1, 1,
		fmt.Sprintf("%s %s installed to %s", m.Name, m.PackageVersion, installPath))
	log.Infof("installed %s %s to %s", m.Name, m.PackageVersion, installPath)
	return &Result{Record: rec, Warnings: warnings}, nil
}

func (in *Installer) workers(opts Options) int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	if in.Config != nil && in.Config.Workers > 0 {
		return in.Config.Workers
	}
	return 4
}

// resolveInstallPath applies the override precedence (caller, manifest,
// scope default) and re-checks traversal safety on the final value.
func resolveInstallPath(m *manifest.Manifest, override string) (string, error) {
	path := override
	if path == "" {
		path = m.InstallPath
	}
	if path == "" {
		path = config.DefaultInstallPath(m.InstallScope, m.Name)
	}
	if path == "" || !filepath.IsAbs(path) {
		return "", errdefs.New(errdefs.ValidationError,
			"install path must be absolute, got %q", path)
	}
	if manifest.HasParentSegment(path) {
		return "", errdefs.New(errdefs.PathTraversalAttempt,
			"install path contains parent directory references").WithPath(path)
	}
	return filepath.Clean(path), nil
}

// preflight runs every check that can fail before any file leaves staging:
// host dependencies, disk space, and target-path collisions.
func (in *Installer) preflight(ctx context.Context, pkg *extract.Package, installPath string) error {
	m := pkg.Manifest

	for _, dep := range m.Dependencies {
		if err := checkDependency(ctx, dep); err != nil {
			return err
		}
	}

	required := m.RequiredSpace
	if required == 0 {
		required = payloadSize(pkg.Staging.PayloadDir())
	}
	if required > 0 {
		if err := fsutil.CheckDiskSpace(installPath, required); err != nil {
			return err
		}
	}

	if info, err := os.Stat(installPath); err == nil {
		if !info.IsDir() {
			return errdefs.New(errdefs.TargetPathExists,
				"install path exists and is not a directory").WithPath(installPath)
		}
		empty, err := fsutil.IsDirEmpty(installPath)
		if err != nil {
			return errdefs.Wrap(errdefs.IoError, err, "failed to inspect install path").WithPath(installPath)
		}
		if !empty {
			return errdefs.New(errdefs.TargetPathExists,
				"install path already exists and is not empty").WithPath(installPath)
		}
	}

	return nil
}

// checkDependency probes one host dependency. A custom check command wins;
// otherwise the dependency name must resolve on PATH.
func checkDependency(ctx context.Context, dep manifest.Dependency) error {
	if dep.CheckCommand != "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := shell.Run(ctx, []string{"/bin/sh", "-c", dep.CheckCommand}, nil); err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err,
				"dependency check failed for %s", dep.Name)
		}
		return nil
	}
	if !shell.CommandExists(dep.Name) {
		msg := "required dependency %s is not installed"
		if dep.MinVersion != "" {
			msg = "required dependency %s (>= " + dep.MinVersion + ") is not installed"
		}
		return errdefs.New(errdefs.ValidationError, msg, dep.Name)
	}
	return nil
}

func payloadSize(dir string) uint64 {
	var total uint64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

// unwindIntegration removes the artifacts created after the copy phase so a
// failed install leaves nothing behind: the service unit, the desktop entry,
// entry symlinks, and the preserved pre-uninstall script with its directory.
// The copy ledger itself is the transaction's to undo.
func (in *Installer) unwindIntegration(ctx context.Context, ops elevate.Ops, rec *metadata.Record) {
	log := logger.Logger()

	if rec.ServiceName != "" {
		svc := service.NewManager(rec.Scope, ops)
		if err := svc.Unregister(ctx, rec.ServiceName, rec.ServiceUnit); err != nil {
			log.Warnf("could not remove service unit during unwind: %v", err)
		}
	}
	if rec.DesktopEntry != "" {
		if err := ops.Remove(ctx, rec.DesktopEntry); err != nil {
			log.Warnf("could not remove desktop entry %s during unwind: %v", rec.DesktopEntry, err)
		}
	}
	for _, link := range rec.Symlinks {
		if err := ops.Remove(ctx, link); err != nil {
			log.Warnf("could not remove symlink %s during unwind: %v", link, err)
		}
	}
	if rec.PreUninstall != "" {
		if err := ops.Remove(ctx, rec.PreUninstall); err != nil {
			log.Warnf("could not remove %s during unwind: %v", rec.PreUninstall, err)
		}
		if err := ops.RemoveEmptyDir(ctx, filepath.Dir(rec.PreUninstall)); err != nil {
			log.Warnf("could not prune %s during unwind: %v", filepath.Dir(rec.PreUninstall), err)
		}
	}
}

// keepPreUninstall copies the staged pre-uninstall script under the install
// path so it survives until uninstallation. Returns the kept path.
func (in *Installer) keepPreUninstall(ctx context.Context, ops elevate.Ops, pkg *extract.Package, installPath string) (string, error) {
	src := filepath.Join(pkg.Staging.Root(), pkg.Manifest.PreUninstall)
	if _, err := os.Stat(src); err != nil {
		return "", errdefs.Wrap(errdefs.IoError, err,
			"manifest declares a pre-uninstall script that is not in the package").WithPath(pkg.Manifest.PreUninstall)
	}

	keepDir := filepath.Join(installPath, ".lapp")
	dst := filepath.Join(keepDir, "pre_uninstall")
	if err := ops.MkdirAll(ctx, keepDir); err != nil {
		return "", err
	}
	if err := ops.CopyFile(ctx, src, dst, 0o755); err != nil {
		return "", err
	}
	return dst, nil
}

// runScript executes a staged hook script with a minimal allow-listed
// environment. The script runs from the staging root with the install
// location exported as INSTALL_PATH.
func (in *Installer) runScript(ctx context.Context, stagingRoot, scriptRel, installPath string) error {
	script := filepath.Join(stagingRoot, scriptRel)
	if _, err := os.Stat(script); err != nil {
		return errdefs.Wrap(errdefs.IoError, err,
			"manifest declares a script that is not in the package").WithPath(scriptRel)
	}
	if err := fsutil.MakeExecutable(script); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"INSTALL_PATH=" + installPath,
	}
	output, err := shell.Run(ctx, []string{script}, env)
	if err != nil {
		return fmt.Errorf("script %s failed: %w: %s", scriptRel, err, output)
	}
	if output != "" {
		logger.Logger().Debugf("script %s output: %s", scriptRel, output)
	}
	return nil
}
