package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lapp-project/lapp/internal/elevate"
	"github.com/lapp-project/lapp/internal/errdefs"
	"github.com/lapp-project/lapp/internal/manifest"
)

func TestUnitPathPerScope(t *testing.T) {
	t.Setenv("HOME", "/home/testuser")

	userMgr := NewManager(manifest.ScopeUser, elevate.DirectOps{})
	if got := userMgr.UnitPath("myapp"); got != "/home/testuser/.config/systemd/user/myapp.service" {
		t.Fatalf("unexpected user unit path %q", got)
	}

	sysMgr := NewManager(manifest.ScopeSystem, elevate.DirectOps{})
	if got := sysMgr.UnitPath("myapp"); got != "/etc/systemd/system/myapp.service" {
		t.Fatalf("unexpected system unit path %q", got)
	}
}

func TestRegisterFailsWithoutUnitTemplate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	mg := NewManager(manifest.ScopeUser, elevate.DirectOps{})
	_, err := mg.Register(context.Background(), t.TempDir(), "ghost", "/opt/ghost")
	if !errdefs.IsKind(err, errdefs.ServiceRegistrationFailed) {
		t.Fatalf("expected ServiceRegistrationFailed, got %v", err)
	}
}

func TestUnitTemplateSubstitution(t *testing.T) {
	servicesDir := t.TempDir()
	template := `[Unit]
Description=My App

[Service]
ExecStart={{INSTALL_PATH}}/bin/myapp --config {{INSTALL_PATH}}/etc/app.conf

[Install]
WantedBy=default.target
`
	if err := os.WriteFile(filepath.Join(servicesDir, "myapp.service"), []byte(template), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(servicesDir, "myapp.service"))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	unit := strings.ReplaceAll(string(raw), installPathToken, "/opt/myapp")

	if strings.Contains(unit, installPathToken) {
		t.Fatalf("placeholder left in rendered unit:\n%s", unit)
	}
	if !strings.Contains(unit, "ExecStart=/opt/myapp/bin/myapp --config /opt/myapp/etc/app.conf") {
		t.Fatalf("substitution wrong:\n%s", unit)
	}
}

func TestUnregisterRemovesUnitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	mg := NewManager(manifest.ScopeUser, elevate.DirectOps{})
	unitPath := mg.UnitPath("myapp")
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(unitPath, []byte("[Unit]\n"), 0o644); err != nil {
		t.Fatalf("write unit: %v", err)
	}

	if err := mg.Unregister(context.Background(), "myapp", unitPath); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Fatalf("unit file should be removed, stat err = %v", err)
	}
}
