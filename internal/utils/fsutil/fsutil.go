// Package fsutil bundles the filesystem helpers shared by the install and
// uninstall paths.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/lapp-project/lapp/internal/errdefs"
)

// EnsureDir creates path (and parents) if it does not exist. It fails when
// the path exists but is not a directory.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return errdefs.New(errdefs.IoError, "path exists but is not a directory").WithPath(path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.IoError, err, "failed to stat directory").WithPath(path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to create directory").WithPath(path)
	}
	return nil
}

// CopyFile copies src to dst, creating parent directories as needed and
// preserving the given mode.
func CopyFile(src, dst string, mode os.FileMode) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to open source file").WithPath(src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to create destination file").WithPath(dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errdefs.Wrap(errdefs.IoError, err, "failed to copy file contents").WithPath(dst)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errdefs.Wrap(errdefs.IoError, err, "failed to flush destination file").WithPath(dst)
	}
	return nil
}

// MakeExecutable adds the execute bit for every class that already has the
// read bit set, mirroring chmod +x semantics.
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to stat file").WithPath(path)
	}
	mode := info.Mode()
	newMode := mode | ((mode & 0o444) >> 2)
	if err := os.Chmod(path, newMode); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to make file executable").WithPath(path)
	}
	return nil
}

// AvailableSpace reports the free bytes on the filesystem backing path,
// walking up to the first existing parent when path does not exist yet.
func AvailableSpace(path string) (uint64, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return 0, fmt.Errorf("no existing parent directory for %s", path)
		}
		probe = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", probe, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// CheckDiskSpace fails with DiskSpaceInsufficient when the filesystem backing
// path has fewer than required bytes available.
func CheckDiskSpace(path string, required uint64) error {
	available, err := AvailableSpace(path)
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to query disk space").WithPath(path)
	}
	if available < required {
		return errdefs.New(errdefs.DiskSpaceInsufficient,
			"insufficient disk space: required %d bytes, available %d bytes", required, available).
			WithPath(path).
			WithDetail(fmt.Sprintf("%d", required), fmt.Sprintf("%d", available))
	}
	return nil
}

// IsDirEmpty reports whether path is an empty directory. A missing path
// counts as empty.
func IsDirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// RemoveDirIfEmpty removes path when it is an empty directory. It is a no-op
// for missing or non-empty paths.
func RemoveDirIfEmpty(path string) error {
	empty, err := IsDirEmpty(path)
	if err != nil || !empty {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
