package uninstall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/metadata"
)

func testEnv(t *testing.T) (*config.GlobalConfig, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := &config.GlobalConfig{
		StateDirUser:   filepath.Join(home, "state-user"),
		StateDirSystem: filepath.Join(home, "state-system"),
	}
	return cfg, home
}

// seedInstall fabricates an installed package: payload files on disk plus a
// matching metadata record.
func seedInstall(t *testing.T, cfg *config.GlobalConfig, name string) (*metadata.Record, string) {
	t.Helper()

	target := filepath.Join(t.TempDir(), "apps", name)
	files := []string{
		filepath.Join(target, "bin", name),
		filepath.Join(target, "share", "readme.txt"),
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(f, []byte("content"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	m := &manifest.Manifest{Name: name, PackageVersion: "1.0.0", InstallScope: manifest.ScopeUser}
	rec := metadata.NewRecord(m, target)
	rec.InstalledFiles = files

	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
	return rec, target
}

func TestUninstallRemovesEverything(t *testing.T) {
	cfg, home := testEnv(t)
	rec, target := seedInstall(t, cfg, "hello")

	// Symlink and desktop entry as the installer would have left them.
	binDir := filepath.Join(home, ".local", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(binDir, "hello")
	if err := os.Symlink(filepath.Join(target, "bin", "hello"), link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	entryDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	entry := filepath.Join(entryDir, "hello.desktop")
	if err := os.WriteFile(entry, []byte("[Desktop Entry]\n"), 0o644); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	rec.Symlinks = []string{link}
	rec.DesktopEntry = entry
	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("update record: %v", err)
	}

	un := New(cfg, nil)
	result, err := un.Uninstall(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("install path should be gone, stat err = %v", err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("symlink should be gone, stat err = %v", err)
	}
	if _, err := os.Stat(entry); !os.IsNotExist(err) {
		t.Fatalf("desktop entry should be gone, stat err = %v", err)
	}
	if _, err := store.Load("hello"); !errdefs.IsKind(err, errdefs.PackageNotInstalled) {
		t.Fatalf("record should be deleted, got %v", err)
	}
}

func TestUninstallRunsPreUninstallScript(t *testing.T) {
	cfg, _ := testEnv(t)
	rec, target := seedInstall(t, cfg, "hooked")

	script := filepath.Join(target, ".lapp", "pre_uninstall")
	if err := os.MkdirAll(filepath.Dir(script), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	marker := filepath.Join(t.TempDir(), "hook-ran")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ntouch "+marker+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	rec.PreUninstall = script
	rec.InstalledFiles = append(rec.InstalledFiles, script)

	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("update record: %v", err)
	}

	un := New(cfg, nil)
	if _, err := un.Uninstall(context.Background(), "hooked", Options{}); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("pre-uninstall script did not run: %v", err)
	}
}

func TestUninstallMissingPackage(t *testing.T) {
	cfg, _ := testEnv(t)

	un := New(cfg, nil)
	_, err := un.Uninstall(context.Background(), "ghost", Options{})
	if !errdefs.IsKind(err, errdefs.PackageNotInstalled) {
		t.Fatalf("expected PackageNotInstalled, got %v", err)
	}
}

func TestUninstallSkipsUntrackedFiles(t *testing.T) {
	cfg, _ := testEnv(t)
	rec, target := seedInstall(t, cfg, "sneaky")

	// A record tampered with to point outside the install path must not
	// delete that file.
	outside := filepath.Join(t.TempDir(), "precious.txt")
	if err := os.WriteFile(outside, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec.InstalledFiles = append(rec.InstalledFiles, outside)

	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("update record: %v", err)
	}

	un := New(cfg, nil)
	result, err := un.Uninstall(context.Background(), "sneaky", Options{})
	if err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning about the skipped file")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("untracked file must survive: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("tracked tree should still be removed")
	}
}

func TestUninstallKeepsSiblingPrefixDirectory(t *testing.T) {
	cfg, _ := testEnv(t)

	// A sibling directory that shares the install path as a string prefix
	// must survive even when a tampered record points into it.
	base := t.TempDir()
	target := filepath.Join(base, "sub", "app")
	sibling := filepath.Join(base, "sub", "appendix")
	tracked := filepath.Join(target, "bin", "tool")
	if err := os.MkdirAll(filepath.Dir(tracked), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(tracked, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(sibling, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := &manifest.Manifest{Name: "prefixy", PackageVersion: "1.0.0", InstallScope: manifest.ScopeUser}
	rec := metadata.NewRecord(m, target)
	rec.InstalledFiles = []string{tracked, filepath.Join(sibling, "ghost")}

	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	un := New(cfg, nil)
	result, err := un.Uninstall(context.Background(), "prefixy", Options{})
	if err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning about the skipped file")
	}

	if _, err := os.Stat(sibling); err != nil {
		t.Fatalf("sibling directory must survive: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("install path should be gone, stat err = %v", err)
	}
}

// recordingOps wraps the direct backend and logs the order removals happen in.
type recordingOps struct {
	elevate.DirectOps
	removed []string
}

func (r *recordingOps) Remove(ctx context.Context, path string) error {
	r.removed = append(r.removed, path)
	return r.DirectOps.Remove(ctx, path)
}

func TestUninstallRemovesUnitFileLast(t *testing.T) {
	cfg, home := testEnv(t)
	rec, _ := seedInstall(t, cfg, "svcapp")

	unit := filepath.Join(home, ".config", "systemd", "user", "svcapp.service")
	if err := os.MkdirAll(filepath.Dir(unit), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(unit, []byte("[Unit]\n"), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}
	entry := filepath.Join(home, ".local", "share", "applications", "svcapp.desktop")
	if err := os.MkdirAll(filepath.Dir(entry), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(entry, []byte("[Desktop Entry]\n"), 0o644); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	rec.ServiceName = "svcapp"
	rec.ServiceUnit = unit
	rec.DesktopEntry = entry
	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	if err := store.Save(rec); err != nil {
		t.Fatalf("update record: %v", err)
	}

	ops := &recordingOps{}
	un := New(cfg, nil)
	un.Ops = ops
	if _, err := un.Uninstall(context.Background(), "svcapp", Options{}); err != nil {
		t.Fatalf("uninstall: %v", err)
	}

	index := func(p string) int {
		for i, got := range ops.removed {
			if got == p {
				return i
			}
		}
		t.Fatalf("%s was never removed", p)
		return -1
	}

	unitIdx := index(unit)
	if unitIdx < index(entry) {
		t.Fatalf("unit file removed before desktop entry: %v", ops.removed)
	}
	for _, f := range rec.InstalledFiles {
		if unitIdx < index(f) {
			t.Fatalf("unit file removed before tracked file %s: %v", f, ops.removed)
		}
	}
}

func TestUninstallRefusesCriticalPaths(t *testing.T) {
	cfg, _ := testEnv(t)

	store := metadata.NewStore(cfg.StateDir(manifest.ScopeUser))
	m := &manifest.Manifest{Name: "evil", PackageVersion: "1.0.0", InstallScope: manifest.ScopeUser}
	rec := metadata.NewRecord(m, "/usr")
	rec.InstalledFiles = []string{"/usr/bin/ls"}
	if err := store.Save(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	un := New(cfg, nil)
	_, err := un.Uninstall(context.Background(), "evil", Options{})
	if !errdefs.IsKind(err, errdefs.ValidationError) {
		t.Fatalf("expected ValidationError for critical path, got %v", err)
	}
	if _, statErr := os.Stat("/usr"); statErr != nil {
		t.Fatalf("/usr must be untouched")
	}
}

func TestValidateRemovalPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	rejected := []string{
		"", "relative/path", "/", "/etc", "/usr", "/var", "/home",
		home, "/ab",
	}
	for _, path := range rejected {
		if err := validateRemovalPath(path); err == nil {
			t.Fatalf("expected rejection for %q", path)
		}
	}

	accepted := []string{
		"/opt/myapp",
		filepath.Join(home, ".local", "share", "myapp"),
		"/srv/apps/tool",
	}
	for _, path := range accepted {
		if err := validateRemovalPath(path); err != nil {
			t.Fatalf("expected acceptance for %q, got %v", path, err)
		}
	}
}
