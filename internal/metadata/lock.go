package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// staleLockAge is how old a lock file must be before a new operation may
// assume its owner died and take the lock over.
const staleLockAge = 10 * time.Minute

type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Operation string    `json:"operation"`
}

// Lock is an exclusive per-package operation lock. It prevents two installs
// or an install racing an uninstall for the same package and scope.
type Lock struct {
	path string
}

// AcquireLock takes the lock for the named package under the store root.
// A fresh lock held by another process yields OperationInProgress; a lock
// older than staleLockAge is treated as abandoned and replaced.
func (s *Store) AcquireLock(name, operation string) (*Lock, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to create state directory").WithPath(s.Root)
	}

	path := filepath.Join(s.Root, name+".lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), StartedAt: time.Now().UTC(), Operation: operation}
			data, _ := json.Marshal(info)
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, errdefs.Wrap(errdefs.IoError, werr, "failed to write lock file").WithPath(path)
			}
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errdefs.Wrap(errdefs.IoError, err, "failed to create lock file").WithPath(path)
		}

		holder, stale := inspectLock(path)
		if !stale {
			return nil, errdefs.New(errdefs.OperationInProgress,
				"another operation (%s) is already running for package %s", holder, name).WithPath(path)
		}
		logger.Logger().Warnf("taking over stale lock %s held by %s", path, holder)
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, errdefs.Wrap(errdefs.IoError, rerr, "failed to remove stale lock").WithPath(path)
		}
	}
	return nil, errdefs.New(errdefs.OperationInProgress,
		"could not acquire lock for package %s", name).WithPath(path)
}

// inspectLock reports a description of the lock holder and whether the lock
// is old enough to steal. An unreadable lock file counts as stale.
func inspectLock(path string) (string, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return "unknown", true
	}

	holder := "unknown"
	var info lockInfo
	if data, err := os.ReadFile(path); err == nil && json.Unmarshal(data, &info) == nil {
		holder = fmt.Sprintf("%s by pid %d since %s",
			info.Operation, info.PID, info.StartedAt.Format(time.RFC3339))
		if !info.StartedAt.IsZero() {
			return holder, time.Since(info.StartedAt) > staleLockAge
		}
	}
	return holder, time.Since(fi.ModTime()) > staleLockAge
}

// Release removes the lock file.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Logger().Warnf("failed to release lock %s: %v", l.path, err)
	}
}
