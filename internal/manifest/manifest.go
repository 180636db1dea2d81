// Package manifest parses, validates, and canonically serializes package
// metadata. The canonical form (signature fields excluded) is what gets
// signed, so verification is independent of whitespace and key order in the
// on-disk manifest.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lapp-project/lapp/internal/errdefs"
)

// Schema is the JSON schema every manifest must satisfy before decoding.
// Required-field and type errors are caught here; semantic constraints
// (charsets, path rules, semver) are checked by Validate.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "name", "package_version", "install_scope", "install_path"],
  "properties": {
    "version": {"type": "string"},
    "name": {"type": "string"},
    "display_name": {"type": "string"},
    "package_version": {"type": "string"},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "license": {"type": "string"},
    "homepage": {"type": "string"},
    "install_scope": {"type": "string", "enum": ["user", "system"]},
    "install_path": {"type": "string"},
    "entry": {"type": "string"},
    "service": {"type": "boolean"},
    "service_name": {"type": "string"},
    "post_install": {"type": "string"},
    "pre_uninstall": {"type": "string"},
    "desktop": {
      "type": "object",
      "properties": {
        "categories": {"type": "array", "items": {"type": "string"}},
        "mime_types": {"type": "array", "items": {"type": "string"}},
        "icon": {"type": "string"},
        "keywords": {"type": "array", "items": {"type": "string"}},
        "show_in_menu": {"type": "boolean"}
      }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "min_version": {"type": "string"},
          "check_command": {"type": "string"}
        }
      }
    },
    "required_space": {"type": "integer", "minimum": 0},
    "architecture": {"type": "string"},
    "file_hashes": {"type": "object", "additionalProperties": {"type": "string"}},
    "signature": {"type": "string"},
    "signing_key": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("manifest.schema.json", Schema)

// Parse decodes manifest bytes. Structural problems (bad JSON, wrong types)
// fail with ManifestParseError; a missing required field fails with
// MissingField. The result is not yet semantically validated.
func Parse(data []byte) (*Manifest, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errdefs.Wrap(errdefs.ManifestParseError, err, "manifest is not valid JSON")
	}

	if err := compiledSchema.Validate(raw); err != nil {
		if field, ok := missingRequiredField(err); ok {
			return nil, errdefs.New(errdefs.MissingField, "required field %q is missing", field).WithPath(field)
		}
		return nil, errdefs.Wrap(errdefs.ManifestParseError, err, "manifest does not match schema")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errdefs.Wrap(errdefs.ManifestParseError, err, "failed to decode manifest")
	}
	return &m, nil
}

// ParseFile reads and parses a manifest from disk.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ManifestParseError, err, "failed to read manifest file").WithPath(path)
	}
	return Parse(data)
}

// missingRequiredField digs a required-property violation out of a schema
// validation error so it can be reported as MissingField.
func missingRequiredField(err error) (string, bool) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", false
	}
	for _, cause := range flatten(ve) {
		if cause.KeywordLocation != "" && strings.HasSuffix(cause.KeywordLocation, "/required") {
			// Message reads: missing properties: 'name'
			msg := cause.Message
			if i := strings.Index(msg, "'"); i >= 0 {
				rest := msg[i+1:]
				if j := strings.Index(rest, "'"); j >= 0 {
					return rest[:j], true
				}
			}
			return "", false
		}
	}
	return "", false
}

func flatten(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	out := []*jsonschema.ValidationError{ve}
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

// Validate enforces the semantic constraints on an already-parsed manifest.
func (m *Manifest) Validate() error {
	if m.Version != Version {
		return errdefs.New(errdefs.UnsupportedVersion, "unsupported manifest version").
			WithDetail(Version, m.Version)
	}

	if m.Name == "" {
		return errdefs.New(errdefs.MissingField, "required field %q is missing", "name").WithPath("name")
	}
	if !validPackageName(m.Name) {
		return errdefs.New(errdefs.ValidationError,
			"invalid package name %q: only alphanumerics, hyphens, and underscores are allowed", m.Name)
	}

	if m.PackageVersion == "" {
		return errdefs.New(errdefs.MissingField, "required field %q is missing", "package_version").WithPath("package_version")
	}
	if _, err := semver.NewVersion(m.PackageVersion); err != nil {
		return errdefs.Wrap(errdefs.ValidationError, err,
			"package_version %q is not a valid semantic version", m.PackageVersion)
	}

	if !m.InstallScope.Valid() {
		return errdefs.New(errdefs.ValidationError,
			"invalid install_scope %q (expected user or system)", m.InstallScope)
	}

	if m.InstallPath == "" {
		return errdefs.New(errdefs.MissingField, "required field %q is missing", "install_path").WithPath("install_path")
	}
	if !filepath.IsAbs(m.InstallPath) {
		return errdefs.New(errdefs.ValidationError, "install_path must be absolute").WithPath(m.InstallPath)
	}
	if HasParentSegment(m.InstallPath) {
		return errdefs.New(errdefs.PathTraversalAttempt,
			"install_path contains a parent-directory segment").WithPath(m.InstallPath)
	}

	for _, script := range []struct{ field, path string }{
		{"post_install", m.PostInstall},
		{"pre_uninstall", m.PreUninstall},
	} {
		if script.path == "" {
			continue
		}
		if filepath.IsAbs(script.path) {
			return errdefs.New(errdefs.ValidationError,
				"%s script path must be relative", script.field).WithPath(script.path)
		}
		if HasParentSegment(script.path) {
			return errdefs.New(errdefs.PathTraversalAttempt,
				"%s script path contains a parent-directory segment", script.field).WithPath(script.path)
		}
	}

	for rel, digest := range m.FileHashes {
		if filepath.IsAbs(rel) || HasParentSegment(rel) {
			return errdefs.New(errdefs.PathTraversalAttempt,
				"file_hashes key escapes the package root").WithPath(rel)
		}
		if err := validDigest(digest); err != nil {
			return errdefs.Wrap(errdefs.ValidationError, err,
				"file_hashes entry for %q is malformed", rel).WithPath(rel)
		}
	}

	return nil
}

// HasParentSegment reports whether any path component is "..".
func HasParentSegment(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func validPackageName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return len(name) > 0
}

func validDigest(digest string) error {
	const prefix = "sha256:"
	if !strings.HasPrefix(digest, prefix) {
		return errdefs.New(errdefs.ValidationError, "digest must use the sha256: prefix")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(digest, prefix))
	if err != nil {
		return errdefs.Wrap(errdefs.ValidationError, err, "digest is not valid hex")
	}
	if len(raw) != 32 {
		return errdefs.New(errdefs.ValidationError, "digest must be 32 bytes")
	}
	return nil
}
