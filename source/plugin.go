package source

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultPluginURLPattern is the remote of plugins without an explicit URL.
const DefaultPluginURLPattern = "https://github.com/moodle-an-hochschulen/moodle-%s.git"

// Plugin is a moodle plugin identified by its frankenstyle name, like theme_boost_union.
type Plugin struct {
	Identifier string
	// Type is the plugin type, like theme.
	Type string
	// Name is the plugin name without its type, like boost_union.
	Name string
}

// ParsePlugin splits a frankenstyle identifier into its type and name.
func ParsePlugin(identifier string) (Plugin, error) {
	typ, name, ok := strings.Cut(identifier, "_")
	if !ok || typ == "" || name == "" {
		return Plugin{}, fmt.Errorf("invalid plugin identifier %q: expected <type>_<name>", identifier)
	}

	return Plugin{Identifier: identifier, Type: typ, Name: name}, nil
}

// Dir returns the checkout directory of the plugin under root.
func (p Plugin) Dir(root string) string {
	return filepath.Join(root, p.Type, p.Name)
}

// RelDir returns the plugin directory relative to a moodle source tree.
func (p Plugin) RelDir() string {
	return p.Type + "/" + p.Name
}

// IsTheme reports whether the plugin is a theme.
func (p Plugin) IsTheme() bool {
	return p.Type == "theme"
}

// Registry maps plugin identifiers to their remote URLs.
type Registry map[string]string

// URL returns the remote URL of the plugin.
func (r Registry) URL(identifier string) string {
	if u, ok := r[identifier]; ok && u != "" {
		return u
	}
	return fmt.Sprintf(DefaultPluginURLPattern, identifier)
}
