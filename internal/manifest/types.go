package manifest

// Version is the manifest format version this engine understands.
const Version = "1.0"

// InstallScope selects between a per-user and a shared system installation.
type InstallScope string

const (
	ScopeUser   InstallScope = "user"
	ScopeSystem InstallScope = "system"
)

// Valid reports whether the scope is one of the two supported values.
func (s InstallScope) Valid() bool {
	return s == ScopeUser || s == ScopeSystem
}

// Manifest is the parsed manifest.json of a package.
//
// Field order matters: the canonical serialization marshals this structure
// (minus the signature fields) with encoding/json, and struct field order is
// part of the canonical byte layout.
type Manifest struct {
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
	Signature      string            `json:"signature,omitempty"`
	SigningKey     string            `json:"signing_key,omitempty"`
}

// DesktopEntry configures application-menu integration.
type DesktopEntry struct {
	Categories []string `json:"categories,omitempty"`
	MimeTypes  []string `json:"mime_types,omitempty"`
	Icon       string   `json:"icon,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	ShowInMenu *bool    `json:"show_in_menu,omitempty"`
}

// Dependency is a host requirement probed before installation.
type Dependency struct {
	Name         string `json:"name"`
	MinVersion   string `json:"min_version,omitempty"`
	CheckCommand string `json:"check_command,omitempty"`
}

// GetDisplayName returns the display name, falling back to the package name.
func (m *Manifest) GetDisplayName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// GetServiceName returns the service name, falling back to the package name.
func (m *Manifest) GetServiceName() string {
	if m.ServiceName != "" {
		return m.ServiceName
	}
	return m.Name
}

// MenuVisible reports whether the desktop entry should appear in the
// application menu. Defaults to true when unset.
func (d *DesktopEntry) MenuVisible() bool {
	return d.ShowInMenu == nil || *d.ShowInMenu
}
