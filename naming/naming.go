// Package naming derives the identifiers of a moodle test environment
// from its infrastructure name and moodle version.
package naming

import (
	"path"
	"strings"
)

const (
	// ProxyConfigExt is the file extension of reverse-proxy virtual-host configs.
	ProxyConfigExt = ".conf"
)

// ComposeSafeName returns the compose project name for the moodle instance of
// the given version inside the given infrastructure.
//
// Dots are not allowed in compose project names, so every dot in the version is
// replaced by an underscore. Moodle versions never contain underscores, which
// keeps the mapping injective.
func ComposeSafeName(infrastructure, version string) string {
	return infrastructure + "-moodle-" + strings.ReplaceAll(version, ".", "_")
}

// WebLocation returns the path under which the instance is served.
// Without a reverse proxy every instance has its own host:port and is served
// from the root, so the location is empty.
func WebLocation(infrastructure, version string, proxied bool) string {
	if !proxied {
		return ""
	}
	return path.Join("/", infrastructure, version)
}

// ProxyConfigFileName returns the name of the reverse-proxy config file of the instance.
func ProxyConfigFileName(infrastructure, version string) string {
	return ComposeSafeName(infrastructure, version) + ProxyConfigExt
}
