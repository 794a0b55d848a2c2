package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mumoshu/mtenv/errdefs"
)

// Kind is the kind of a git reference.
type Kind string

const (
	KindBranch      Kind = "branch"
	KindCommit      Kind = "commit"
	KindPullRequest Kind = "pr"
	KindTag         Kind = "tag"
)

// Kinds lists every supported reference kind.
var Kinds = []Kind{KindBranch, KindCommit, KindPullRequest, KindTag}

// Reference identifies exactly one revision of a plugin repository.
type Reference struct {
	Kind  Kind   `yaml:"type"`
	Value string `yaml:"reference"`
}

// ParseReference validates kind and value and returns the reference.
// A pull request value must be a positive number.
func ParseReference(kind, value string) (Reference, error) {
	k := Kind(strings.ToLower(kind))

	if value == "" {
		return Reference{}, errdefs.New(errdefs.KindInvalidGitReference, fmt.Sprintf("%s with an empty value", kind))
	}

	switch k {
	case KindBranch, KindTag, KindCommit:
	case KindPullRequest:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return Reference{}, errdefs.New(errdefs.KindInvalidGitReference, fmt.Sprintf("pull request %q is not a number", value))
		}
	default:
		return Reference{}, errdefs.New(errdefs.KindInvalidGitReference, fmt.Sprintf("unknown reference type %q", kind))
	}

	return Reference{Kind: k, Value: value}, nil
}

func (r Reference) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.Value)
}
