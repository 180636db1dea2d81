// Package metadata persists one JSON record per installed package. Records
// are the source of truth for uninstallation, so saves are atomic (temp file
// plus rename) and the record is only written after every other install step
// has succeeded.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/utils/logger"
)

// Record captures everything needed to cleanly remove an installed package.
type Record struct {
	InstallID      string                 `json:"install_id"`
	PackageName    string                 `json:"package_name"`
	PackageVersion string                 `json:"package_version"`
	DisplayName    string                 `json:"display_name,omitempty"`
	InstallDate    time.Time              `json:"install_date"`
	InstallPath    string                 `json:"install_path"`
	Scope          manifest.InstallScope  `json:"install_scope"`
	InstalledFiles []string               `json:"installed_files"`
	Symlinks       []string               `json:"symlinks,omitempty"`
	DesktopEntry   string                 `json:"desktop_entry,omitempty"`
	ServiceUnit    string                 `json:"service_unit,omitempty"`
	ServiceName    string                 `json:"service_name,omitempty"`
	PreUninstall   string                 `json:"pre_uninstall,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// NewRecord builds a record for a fresh installation with a unique ID and the
// current timestamp.
func NewRecord(m *manifest.Manifest, installPath string) *Record {
	return &Record{
		InstallID:      uuid.NewString(),
		PackageName:    m.Name,
		PackageVersion: m.PackageVersion,
		DisplayName:    m.GetDisplayName(),
		InstallDate:    time.Now().UTC(),
		InstallPath:    installPath,
		Scope:          m.InstallScope,
	}
}

// Store reads and writes install records under a single state directory.
type Store struct {
	Root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store { return &Store{Root: dir} }

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.Root, name+".json")
}

// Save writes the record atomically: marshal to a temp file in the state
// directory, fsync, rename over the final path, then sync the directory. A
// crash leaves either the old record or the new one, never a torn file.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to create state directory").WithPath(s.Root)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to encode install record")
	}

	final := s.recordPath(rec.PackageName)
	tmp, err := os.CreateTemp(s.Root, "."+rec.PackageName+".json.tmp-")
	if err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to create temporary record file").WithPath(s.Root)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.IoError, err, "failed to write install record").WithPath(tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errdefs.Wrap(errdefs.IoError, err, "failed to sync install record").WithPath(tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to close install record").WithPath(tmpName)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return errdefs.Wrap(errdefs.IoError, err, "failed to commit install record").WithPath(final)
	}
	syncDir(s.Root)

	logger.Logger().Debugf("saved install record for %s at %s", rec.PackageName, final)
	return nil
}

// Load reads the record for a package by name.
func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.New(errdefs.PackageNotInstalled, "package %s is not installed", name)
		}
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to read install record").WithPath(s.recordPath(name))
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errdefs.Wrap(errdefs.MetadataCorrupted, err,
			"install record for %s is not valid JSON", name).WithPath(s.recordPath(name))
	}
	if rec.PackageName == "" || rec.InstallPath == "" {
		return nil, errdefs.New(errdefs.MetadataCorrupted,
			"install record for %s is missing required fields", name).WithPath(s.recordPath(name))
	}
	return &rec, nil
}

// Delete removes the record for a package. Missing records are not an error;
// deletion is the last step of uninstall and may be retried.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.recordPath(name))
	if err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(errdefs.IoError, err, "failed to remove install record").WithPath(s.recordPath(name))
	}
	syncDir(s.Root)
	return nil
}

// List returns all readable install records sorted by package name.
// Corrupt records are skipped with a warning so one bad file does not hide
// the rest of the inventory.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(errdefs.IoError, err, "failed to read state directory").WithPath(s.Root)
	}

	var records []*Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			logger.Logger().Warnf("skipping unreadable install record %s: %v", name, err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].PackageName < records[j].PackageName })
	return records, nil
}

// syncDir fsyncs a directory so a rename within it is durable. Best effort;
// some filesystems reject directory syncs.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.Logger().Debugf("directory sync failed for %s: %v", dir, err)
	}
}
