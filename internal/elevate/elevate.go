// Package elevate abstracts the filesystem operations that differ between
// user-scope and system-scope installs. User-scope operations run in-process;
// system-scope operations run each mutation through a polkit or sudo helper
// so the engine itself never holds root for longer than one operation.
package elevate

import (
	"context"
	"os"
	"time"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/utils/fsutil"
	"github.com/lapp-project/lapp/internal/utils/logger"
	"github.com/lapp-project/lapp/internal/utils/shell"
)

// Ops is the set of privileged filesystem mutations the install and
// uninstall paths need. Implementations must be safe for concurrent use.
type Ops interface {
	MkdirAll(ctx context.Context, path string) error
	CopyFile(ctx context.Context, src, dst string, mode os.FileMode) error
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	Symlink(ctx context.Context, target, link string) error
	Remove(ctx context.Context, path string) error
	RemoveEmptyDir(ctx context.Context, path string) error
}

// ForScope picks the right implementation: direct calls for user scope or
// when already running as root, per-operation elevation otherwise.
func ForScope(scope manifest.InstallScope) Ops {
	if scope == manifest.ScopeSystem && os.Geteuid() != 0 {
		return NewElevatedOps()
	}
	return DirectOps{}
}

// DirectOps performs every mutation with the current process credentials.
type DirectOps struct{}

func (DirectOps) MkdirAll(_ context.Context, path string) error {
	return fsutil.EnsureDir(path)
}

func (DirectOps) CopyFile(_ context.Context, src, dst string, mode os.FileMode) error {
	return fsutil.CopyFile(src, dst, mode)
}

func (DirectOps) WriteFile(_ context.Context, path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to write file").WithPath(path)
	}
	return nil
}

func (DirectOps) Chmod(_ context.Context, path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to change file mode").WithPath(path)
	}
	return nil
}

func (DirectOps) Symlink(_ context.Context, target, link string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.IoError, err, "failed to replace existing link").WithPath(link)
	}
	if err := os.Symlink(target, link); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to create symlink").WithPath(link)
	}
	return nil
}

func (DirectOps) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.IoError, err, "failed to remove file").WithPath(path)
	}
	return nil
}

func (DirectOps) RemoveEmptyDir(_ context.Context, path string) error {
	if err := fsutil.RemoveDirIfEmpty(path); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to remove directory").WithPath(path)
	}
	return nil
}

// opTimeout bounds each elevated helper call so a hung authentication
// dialog cannot stall the engine forever.
const opTimeout = 2 * time.Minute

// ElevatedOps runs each mutation through pkexec (preferred) or
// non-interactive sudo. Authorization is requested per operation; a denial
// surfaces as InsufficientPermissions and aborts the transaction.
type ElevatedOps struct {
	prefix []string
}

// NewElevatedOps detects the available elevation mechanism.
func NewElevatedOps() *ElevatedOps {
	if shell.CommandExists("pkexec") {
		return &ElevatedOps{prefix: []string{"pkexec"}}
	}
	if shell.CommandExists("sudo") {
		return &ElevatedOps{prefix: []string{"sudo", "-n"}}
	}
	return &ElevatedOps{}
}

func (e *ElevatedOps) run(ctx context.Context, argv ...string) error {
	if len(e.prefix) == 0 {
		return errdefs.New(errdefs.InsufficientPermissions,
			"system scope requires pkexec or sudo, neither is available")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	full := append(append([]string{}, e.prefix...), argv...)
	output, err := shell.Run(ctx, full, nil)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errdefs.New(errdefs.InsufficientPermissions,
				"elevation request timed out for: %v", argv)
		}
		logger.Logger().Debugf("elevated command failed: %v: %s", err, output)
		return errdefs.Wrap(errdefs.InsufficientPermissions, err,
			"elevated operation was denied or failed: %v", argv)
	}
	return nil
}

func (e *ElevatedOps) MkdirAll(ctx context.Context, path string) error {
	return e.run(ctx, "mkdir", "-p", path)
}

func (e *ElevatedOps) CopyFile(ctx context.Context, src, dst string, mode os.FileMode) error {
	if err := e.run(ctx, "cp", "--preserve=timestamps", src, dst); err != nil {
		return err
	}
	return e.run(ctx, "chmod", octal(mode), dst)
}

func (e *ElevatedOps) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	// Stage with user credentials, then move into place elevated.
	tmp, err := os.CreateTemp("", "lapp-elevate-")
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to stage file for elevated write")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.IoError, err, "failed to stage file for elevated write").WithPath(tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to stage file for elevated write").WithPath(tmpName)
	}

	if err := e.run(ctx, "cp", tmpName, path); err != nil {
		return err
	}
	return e.run(ctx, "chmod", octal(mode), path)
}

func (e *ElevatedOps) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return e.run(ctx, "chmod", octal(mode), path)
}

func (e *ElevatedOps) Symlink(ctx context.Context, target, link string) error {
	return e.run(ctx, "ln", "-sf", target, link)
}

func (e *ElevatedOps) Remove(ctx context.Context, path string) error {
	return e.run(ctx, "rm", "-f", "--", path)
}

func (e *ElevatedOps) RemoveEmptyDir(ctx context.Context, path string) error {
	empty, err := fsutil.IsDirEmpty(path)
	if err != nil || !empty {
		return err
	}
	return e.run(ctx, "rmdir", "--ignore-fail-on-non-empty", "--", path)
}

func octal(mode os.FileMode) string {
	const digits = "01234567"
	perm := uint32(mode.Perm())
	return string([]byte{'0', digits[(perm>>6)&7], digits[(perm>>3)&7], digits[perm&7]})
}
