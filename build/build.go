package build

import (
	"fmt"

	classyversion "go.szostok.io/version"
)

// Version returns the version line printed by `mtenv --version`.
func Version() string {
	v := classyversion.Get()

	return fmt.Sprintf("%s (commit %s, built %s, %s)", v.Version, v.GitCommit, v.BuildDate, v.Platform)
}
