package manifest

import (
	"encoding/json"

	"github.com/lapp-project/lapp/internal/errdefs"
)

// canonicalManifest mirrors Manifest minus the signature fields. Marshaling
// it with encoding/json yields a byte-exact deterministic form: struct
// fields emit in declaration order and map keys emit sorted.
type canonicalManifest struct {
	Version        string            `json:"version"`
	Name           string            `json:"name"`
	DisplayName    string            `json:"display_name,omitempty"`
	PackageVersion string            `json:"package_version"`
	Description    string            `json:"description,omitempty"`
	Author         string            `json:"author,omitempty"`
	License        string            `json:"license,omitempty"`
	Homepage       string            `json:"homepage,omitempty"`
	InstallScope   InstallScope      `json:"install_scope"`
	InstallPath    string            `json:"install_path"`
	Entry          string            `json:"entry,omitempty"`
	Service        bool              `json:"service,omitempty"`
	ServiceName    string            `json:"service_name,omitempty"`
	PostInstall    string            `json:"post_install,omitempty"`
	PreUninstall   string            `json:"pre_uninstall,omitempty"`
	Desktop        *DesktopEntry     `json:"desktop,omitempty"`
	Dependencies   []Dependency      `json:"dependencies,omitempty"`
	RequiredSpace  uint64            `json:"required_space,omitempty"`
	Architecture   string            `json:"architecture,omitempty"`
	FileHashes     map[string]string `json:"file_hashes,omitempty"`
}

// CanonicalBytes returns the deterministic serialization of the manifest
// with signature and signing_key excluded. These bytes, not the on-disk
// manifest bytes, are what gets signed and verified.
func (m *Manifest) CanonicalBytes() ([]byte, error) {
	c := canonicalManifest{
		Version:        m.Version,
		Name:           m.Name,
		DisplayName:    m.DisplayName,
		PackageVersion: m.PackageVersion,
		Description:    m.Description,
		Author:         m.Author,
		License:        m.License,
		Homepage:       m.Homepage,
		InstallScope:   m.InstallScope,
		InstallPath:    m.InstallPath,
		Entry:          m.Entry,
		Service:        m.Service,
		ServiceName:    m.ServiceName,
		PostInstall:    m.PostInstall,
		PreUninstall:   m.PreUninstall,
		Desktop:        m.Desktop,
		Dependencies:   m.Dependencies,
		RequiredSpace:  m.RequiredSpace,
		Architecture:   m.Architecture,
		FileHashes:     m.FileHashes,
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ManifestParseError, err, "failed to canonicalize manifest")
	}
	return data, nil
}
