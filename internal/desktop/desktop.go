// Package desktop writes freedesktop.org .desktop entries so installed
// applications show up in menus and can claim MIME types.
package desktop

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lapp-project/lapp/internal/config"
	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
	"github.com/lapp-project/lapp/internal/utils/logger"
	"github.com/lapp-project/lapp/internal/utils/shell"
)

// Manager registers and removes the desktop entry of one package.
type Manager struct {
	Scope manifest.InstallScope
	Ops   elevate.Ops
}

// NewManager returns a manager for the given scope using ops for writes.
func NewManager(scope manifest.InstallScope, ops elevate.Ops) *Manager {
	return &Manager{Scope: scope, Ops: ops}
}

// EntryPath returns where the .desktop file for a package lives in this scope.
func (mg *Manager) EntryPath(name string) string {
	return filepath.Join(config.DesktopDir(mg.Scope), name+".desktop")
}

// Register renders and writes the .desktop entry for an installed package.
// It returns the path of the written entry.
func (mg *Manager) Register(ctx context.Context, m *manifest.Manifest, installPath string) (string, error) {
	if m.Desktop == nil {
		return "", nil
	}

	entryPath := mg.EntryPath(m.Name)
	content := Render(m, installPath)

	if err := mg.Ops.MkdirAll(ctx, filepath.Dir(entryPath)); err != nil {
		return "", errdefs.Wrap(errdefs.DesktopEntryFailed, err,
			"failed to create applications directory").WithPath(filepath.Dir(entryPath))
	}
	if err := mg.Ops.WriteFile(ctx, entryPath, []byte(content), 0o644); err != nil {
		return "", errdefs.Wrap(errdefs.DesktopEntryFailed, err,
			"failed to write desktop entry").WithPath(entryPath)
	}

	mg.refreshDatabase(ctx)
	logger.Logger().Infof("registered desktop entry %s", entryPath)
	return entryPath, nil
}

// Remove deletes a previously registered desktop entry.
func (mg *Manager) Remove(ctx context.Context, entryPath string) error {
	if entryPath == "" {
		return nil
	}
	if err := mg.Ops.Remove(ctx, entryPath); err != nil {
		return errdefs.Wrap(errdefs.DesktopEntryFailed, err,
			"failed to remove desktop entry").WithPath(entryPath)
	}
	mg.refreshDatabase(ctx)
	return nil
}

// refreshDatabase asks the desktop environment to rescan entries. Best
// effort; many minimal hosts do not ship the tool.
func (mg *Manager) refreshDatabase(ctx context.Context) {
	if !shell.CommandExists("update-desktop-database") {
		return
	}
	dir := config.DesktopDir(mg.Scope)
	if _, err := shell.Run(ctx, []string{"update-desktop-database", dir}, nil); err != nil {
		logger.Logger().Debugf("update-desktop-database failed for %s: %v", dir, err)
	}
}

// Render produces the .desktop file content for a manifest. The Exec line
// points at the installed entry binary; Icon falls back to an installed
// relative path when one is declared.
func Render(m *manifest.Manifest, installPath string) string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", m.GetDisplayName())
	if m.Description != "" {
		fmt.Fprintf(&b, "Comment=%s\n", m.Description)
	}
	if m.Entry != "" {
		fmt.Fprintf(&b, "Exec=%s\n", filepath.Join(installPath, m.Entry))
	}

	d := m.Desktop
	if d.Icon != "" {
		icon := d.Icon
		if !filepath.IsAbs(icon) && strings.Contains(icon, "/") {
			icon = filepath.Join(installPath, icon)
		}
		fmt.Fprintf(&b, "Icon=%s\n", icon)
	}
	if len(d.Categories) > 0 {
		fmt.Fprintf(&b, "Categories=%s;\n", strings.Join(d.Categories, ";"))
	}
	if len(d.MimeTypes) > 0 {
		fmt.Fprintf(&b, "MimeType=%s;\n", strings.Join(d.MimeTypes, ";"))
	}
	if len(d.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords=%s;\n", strings.Join(d.Keywords, ";"))
	}
	if !d.MenuVisible() {
		b.WriteString("NoDisplay=true\n")
	}
	return b.String()
}
