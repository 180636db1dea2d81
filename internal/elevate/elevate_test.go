package elevate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lapp-project/lapp/internal/manifest"
)

func TestForScopeUserIsDirect(t *testing.T) {
	ops := ForScope(manifest.ScopeUser)
	if _, ok := ops.(DirectOps); !ok {
		t.Fatalf("user scope must use direct operations, got %T", ops)
	}
}

func TestDirectOpsFileLifecycle(t *testing.T) {
	ctx := context.Background()
	ops := DirectOps{}
	root := t.TempDir()

	dir := filepath.Join(root, "a", "b")
	if err := ops.MkdirAll(ctx, dir); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	src := filepath.Join(root, "src")
	if err := os.WriteFile(src, []byte("content"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(dir, "dst")
	if err := ops.CopyFile(ctx, src, dst, 0o640); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if info, err := os.Stat(dst); err != nil || info.Mode().Perm() != 0o640 {
		t.Fatalf("copy result wrong (err=%v)", err)
	}

	if err := ops.Chmod(ctx, dst, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if info, _ := os.Stat(dst); info.Mode().Perm() != 0o755 {
		t.Fatalf("chmod not applied: %o", info.Mode().Perm())
	}

	written := filepath.Join(dir, "written")
	if err := ops.WriteFile(ctx, written, []byte("unit"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	link := filepath.Join(root, "link")
	if err := ops.Symlink(ctx, dst, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if target, err := os.Readlink(link); err != nil || target != dst {
		t.Fatalf("link points to %q (err=%v)", target, err)
	}
	// Replacing an existing link must succeed.
	if err := ops.Symlink(ctx, written, link); err != nil {
		t.Fatalf("replace symlink: %v", err)
	}

	for _, p := range []string{dst, written, link} {
		if err := ops.Remove(ctx, p); err != nil {
			t.Fatalf("remove %s: %v", p, err)
		}
	}
	// Removing a missing file is a no-op.
	if err := ops.Remove(ctx, dst); err != nil {
		t.Fatalf("remove missing: %v", err)
	}

	if err := ops.RemoveEmptyDir(ctx, dir); err != nil {
		t.Fatalf("remove empty dir: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("dir should be gone, stat err = %v", err)
	}
}

func TestRemoveEmptyDirKeepsNonEmpty(t *testing.T) {
	ctx := context.Background()
	ops := DirectOps{}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := ops.RemoveEmptyDir(ctx, dir); err != nil {
		t.Fatalf("remove non-empty should be a no-op: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("non-empty dir was removed: %v", err)
	}
}

func TestOctalFormatting(t *testing.T) {
	cases := map[os.FileMode]string{
		0o755: "0755",
		0o644: "0644",
		0o600: "0600",
		0o777: "0777",
	}
	for mode, want := range cases {
		if got := octal(mode); got != want {
			t.Fatalf("octal(%o) = %q, want %q", mode, got, want)
		}
	}
}
