package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lapp-project/lapp/internal/errdefs"
)

const validManifestJSON = `{
  "version": "1.0",
  "name": "hello-tool",
  "display_name": "Hello Tool",
  "package_version": "2.1.0",
  "install_scope": "user",
  "install_path": "/home/dev/.local/share/hello-tool",
  "entry": "bin/hello",
  "file_hashes": {
    "payload/bin/hello": "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
  }
}`

func validManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := Parse([]byte(validManifestJSON))
	if err != nil {
		t.Fatalf("parse valid manifest: %v", err)
	}
	return m
}

func TestParseValidManifest(t *testing.T) {
	m := validManifest(t)
	if m.Name != "hello-tool" {
		t.Fatalf("unexpected name %q", m.Name)
	}
	if m.InstallScope != ScopeUser {
		t.Fatalf("unexpected scope %q", m.InstallScope)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"version": `))
	if !errdefs.IsKind(err, errdefs.ManifestParseError) {
		t.Fatalf("expected ManifestParseError, got %v", err)
	}
}

func TestParseReportsMissingRequiredField(t *testing.T) {
	_, err := Parse([]byte(`{"version": "1.0", "name": "x", "install_scope": "user", "install_path": "/opt/x"}`))
	if !errdefs.IsKind(err, errdefs.MissingField) {
		t.Fatalf("expected MissingField, got %v", err)
	}
	if !strings.Contains(err.Error(), "package_version") {
		t.Fatalf("expected the missing field name in %q", err.Error())
	}
}

func TestParseRejectsWrongFieldType(t *testing.T) {
	_, err := Parse([]byte(`{"version": "1.0", "name": "x", "package_version": "1.0.0",
		"install_scope": "user", "install_path": "/opt/x", "service": "yes"}`))
	if !errdefs.IsKind(err, errdefs.ManifestParseError) {
		t.Fatalf("expected ManifestParseError for wrong type, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
		kind   errdefs.Kind
	}{
		{"unsupported version", func(m *Manifest) { m.Version = "2.0" }, errdefs.UnsupportedVersion},
		{"bad name charset", func(m *Manifest) { m.Name = "bad name!" }, errdefs.ValidationError},
		{"bad semver", func(m *Manifest) { m.PackageVersion = "not-a-version" }, errdefs.ValidationError},
		{"bad scope", func(m *Manifest) { m.InstallScope = "global" }, errdefs.ValidationError},
		{"relative install path", func(m *Manifest) { m.InstallPath = "apps/hello" }, errdefs.ValidationError},
		{"traversal in install path", func(m *Manifest) { m.InstallPath = "/opt/../etc" }, errdefs.PathTraversalAttempt},
		{"absolute script path", func(m *Manifest) { m.PostInstall = "/tmp/evil.sh" }, errdefs.ValidationError},
		{"traversal in script path", func(m *Manifest) { m.PreUninstall = "../../evil.sh" }, errdefs.PathTraversalAttempt},
		{"traversal in hash key", func(m *Manifest) {
			m.FileHashes = map[string]string{"../escape": "sha256:" + strings.Repeat("ab", 32)}
		}, errdefs.PathTraversalAttempt},
		{"malformed digest", func(m *Manifest) {
			m.FileHashes = map[string]string{"payload/f": "md5:abcd"}
		}, errdefs.ValidationError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest(t)
			tc.mutate(m)
			err := m.Validate()
			if !errdefs.IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	a := validManifest(t)
	b := validManifest(t)

	ca, err := a.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	cb, err := b.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("canonical form is not deterministic:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalBytesExcludeSignatureFields(t *testing.T) {
	m := validManifest(t)
	unsigned, err := m.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	m.Signature = "-----BEGIN PGP SIGNATURE-----"
	m.SigningKey = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	signed, err := m.CanonicalBytes()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	if !bytes.Equal(unsigned, signed) {
		t.Fatalf("signature fields leaked into the canonical form")
	}
	if bytes.Contains(signed, []byte("PGP")) {
		t.Fatalf("canonical bytes contain signature material")
	}
}

func TestHasParentSegment(t *testing.T) {
	cases := map[string]bool{
		"payload/bin/app": false,
		"..":              true,
		"a/../b":          true,
		"a/..b/c":         false,
		"/opt/../etc":     true,
	}
	for path, want := range cases {
		if got := HasParentSegment(path); got != want {
			t.Fatalf("HasParentSegment(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDisplayAndServiceNameFallbacks(t *testing.T) {
	m := &Manifest{Name: "svc-app"}
	if m.GetDisplayName() != "svc-app" {
		t.Fatalf("expected name fallback, got %q", m.GetDisplayName())
	}
	if m.GetServiceName() != "svc-app" {
		t.Fatalf("expected name fallback, got %q", m.GetServiceName())
	}

	m.DisplayName = "Service App"
	m.ServiceName = "svcd"
	if m.GetDisplayName() != "Service App" || m.GetServiceName() != "svcd" {
		t.Fatalf("explicit values should win")
	}
}
