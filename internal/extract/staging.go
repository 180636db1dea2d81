package extract

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// StagingArea is an exclusively-owned temporary directory holding extracted
// package contents. It lives for one extraction-through-copy pass and is
// destroyed on every exit path via Close.
type StagingArea struct {
	dir       string
	closeOnce sync.Once
}

// NewStagingArea creates a fresh private staging directory under tempRoot.
func NewStagingArea(tempRoot string) (*StagingArea, error) {
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	dir, err := os.MkdirTemp(tempRoot, "lapp-stage-")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to create staging directory")
	}
	return &StagingArea{dir: dir}, nil
}

// Root returns the staging directory path.
func (s *StagingArea) Root() string { return s.dir }

// ManifestPath returns the path of the staged manifest.json.
func (s *StagingArea) ManifestPath() string { return filepath.Join(s.dir, "manifest.json") }

// PayloadDir returns the staged payload/ tree.
func (s *StagingArea) PayloadDir() string { return filepath.Join(s.dir, "payload") }

// ScriptsDir returns the staged scripts/ tree.
func (s *StagingArea) ScriptsDir() string { return filepath.Join(s.dir, "scripts") }

// ServicesDir returns the staged services/ tree.
func (s *StagingArea) ServicesDir() string { return filepath.Join(s.dir, "services") }

// Close removes the staging directory and everything under it. Safe to call
// multiple times; callers defer it immediately after NewStagingArea.
func (s *StagingArea) Close() {
	s.closeOnce.Do(func() {
		if err := os.RemoveAll(s.dir); err != nil {
			logger.Logger().Warnf("failed to remove staging directory %s: %v", s.dir, err)
		}
	})
}
