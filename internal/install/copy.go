package install

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/progress"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// copyTxn moves the staged payload to the install path with a bounded worker
// pool, recording every file and directory it creates so a failure can undo
// the lot.
type copyTxn struct {
	ops     elevate.Ops
	emitter *progress.Emitter
	workers int

	mu     sync.Mutex
	copied []string
	dirs   []string
}

func newCopyTxn(ops elevate.Ops, emitter *progress.Emitter, workers int) *copyTxn {
	if workers <= 0 {
		workers = 1
	}
	return &copyTxn{ops: ops, emitter: emitter, workers: workers}
}

type copyJob struct {
	src  string
	dst  string
	rel  string
	mode os.FileMode
}

// copyPayload mirrors payloadDir into installPath. Directories are created
// up front in path order; files are then copied concurrently.
func (t *copyTxn) copyPayload(ctx context.Context, payloadDir, installPath string) error {
	var jobs []copyJob
	var dirRels []string

	err := filepath.Walk(payloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(payloadDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		switch {
		case info.IsDir():
			dirRels = append(dirRels, rel)
		case info.Mode().IsRegular():
			jobs = append(jobs, copyJob{
				src:  path,
				dst:  filepath.Join(installPath, rel),
				rel:  rel,
				mode: info.Mode().Perm(),
			})
		default:
			logger.Logger().Warnf("skipping irregular payload entry %s", rel)
		}
		return nil
	})
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to walk staged payload").WithPath(payloadDir)
	}

	created, err := t.createDirs(ctx, installPath, dirRels)
	if err != nil {
		return err
	}
	t.dirs = created

	total := len(jobs)
	t.emitter.Progress(progress.PhaseCopying, 0, total, "copying files")

	jobCh := make(chan copyJob)
	var wg sync.WaitGroup
	var done int
	var firstErr error
	var errMu sync.Mutex

	failed := func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return firstErr != nil
	}
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if failed() {
					continue
				}
				if err := t.ops.CopyFile(ctx, job.src, job.dst, job.mode); err != nil {
					fail(errdefs.Wrap(errdefs.IoError, err, "failed to install file").WithPath(job.dst))
					continue
				}
				t.mu.Lock()
				t.copied = append(t.copied, job.dst)
				done++
				n := done
				t.mu.Unlock()
				t.emitter.Progress(progress.PhaseCopying, n, total, job.rel)
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	return firstErr
}

// createDirs makes installPath and every payload directory beneath it,
// returning only the directories that did not exist beforehand so rollback
// never removes a directory it did not create.
func (t *copyTxn) createDirs(ctx context.Context, installPath string, rels []string) ([]string, error) {
	sort.Strings(rels)

	paths := make([]string, 0, len(rels)+1)
	paths = append(paths, installPath)
	for _, rel := range rels {
		paths = append(paths, filepath.Join(installPath, rel))
	}

	var created []string
	for _, dir := range paths {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := t.ops.MkdirAll(ctx, dir); err != nil {
			t.dirs = created
			return created, err
		}
		created = append(created, dir)
	}
	return created, nil
}

// files returns the installed file paths in sorted order.
func (t *copyTxn) files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.copied))
	copy(out, t.copied)
	sort.Strings(out)
	return out
}

// rollback removes everything the transaction created: files first, then
// directories deepest-first, skipping any directory that picked up other
// content in the meantime.
func (t *copyTxn) rollback(ctx context.Context) {
	log := logger.Logger()
	log.Warnf("rolling back partial installation")

	t.mu.Lock()
	files := make([]string, len(t.copied))
	copy(files, t.copied)
	dirs := make([]string, len(t.dirs))
	copy(dirs, t.dirs)
	t.mu.Unlock()

	for _, f := range files {
		if err := t.ops.Remove(ctx, f); err != nil {
			log.Warnf("rollback could not remove %s: %v", f, err)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := t.ops.RemoveEmptyDir(ctx, d); err != nil {
			log.Warnf("rollback could not remove directory %s: %v", d, err)
		}
	}
}
