// Package errdefs defines the failures mtenv reports to the operator.
//
// Every failure that can be fixed by re-running a command with corrected input
// is an *Error carrying one Kind out of a closed set. Callers match on a kind with
// errors.Is against the exported sentinels, e.g.
//
//	if errors.Is(err, errdefs.ErrInvalidMoodleVersion) { ... }
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindNameAlreadyTaken Kind = iota + 1
	KindInfrastructureDoesNotExistYet
	KindTestbedDoesNotExistYet
	KindVersionArgumentNeeded
	KindInvalidMoodleVersion
	KindUnsupportedMoodleVersion
	KindMoodleTestEnvironmentDoesNotExistYet
	KindInvalidGitReference
)

var kindNames = map[Kind]string{
	KindNameAlreadyTaken:                     "NameAlreadyTaken",
	KindInfrastructureDoesNotExistYet:        "InfrastructureDoesNotExistYet",
	KindTestbedDoesNotExistYet:               "TestbedDoesNotExistYet",
	KindVersionArgumentNeeded:                "VersionArgumentNeeded",
	KindInvalidMoodleVersion:                 "InvalidMoodleVersion",
	KindUnsupportedMoodleVersion:             "UnsupportedMoodleVersion",
	KindMoodleTestEnvironmentDoesNotExistYet: "MoodleTestEnvironmentDoesNotExistYet",
	KindInvalidGitReference:                  "InvalidGitReference",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. They compare equal to any *Error of the same Kind.
var (
	ErrNameAlreadyTaken                     = &Error{Kind: KindNameAlreadyTaken}
	ErrInfrastructureDoesNotExistYet        = &Error{Kind: KindInfrastructureDoesNotExistYet}
	ErrTestbedDoesNotExistYet               = &Error{Kind: KindTestbedDoesNotExistYet}
	ErrVersionArgumentNeeded                = &Error{Kind: KindVersionArgumentNeeded}
	ErrInvalidMoodleVersion                 = &Error{Kind: KindInvalidMoodleVersion}
	ErrUnsupportedMoodleVersion             = &Error{Kind: KindUnsupportedMoodleVersion}
	ErrMoodleTestEnvironmentDoesNotExistYet = &Error{Kind: KindMoodleTestEnvironmentDoesNotExistYet}
	ErrInvalidGitReference                  = &Error{Kind: KindInvalidGitReference}
)

// Error is a classified, operator-facing failure.
type Error struct {
	Kind Kind
	// Subject is the infrastructure name, version or git reference the error is about.
	Subject string
	// Err is the underlying cause, if any.
	Err error
}

// New returns an *Error of the given kind about subject.
func New(kind Kind, subject string) error {
	return &Error{Kind: kind, Subject: subject}
}

// Wrap returns an *Error of the given kind about subject caused by err.
func Wrap(kind Kind, subject string, err error) error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.message()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) message() string {
	switch e.Kind {
	case KindNameAlreadyTaken:
		return fmt.Sprintf("infrastructure name %q is already taken", e.Subject)
	case KindInfrastructureDoesNotExistYet:
		return fmt.Sprintf("infrastructure %q does not exist yet", e.Subject)
	case KindTestbedDoesNotExistYet:
		return fmt.Sprintf("testbed at %q has not been initialized yet", e.Subject)
	case KindVersionArgumentNeeded:
		return "at least one moodle version is needed"
	case KindInvalidMoodleVersion:
		return fmt.Sprintf("moodle version %q does not exist", e.Subject)
	case KindUnsupportedMoodleVersion:
		return fmt.Sprintf("moodle version %q is not supported", e.Subject)
	case KindMoodleTestEnvironmentDoesNotExistYet:
		return fmt.Sprintf("no test environment for moodle version %q exists yet", e.Subject)
	case KindInvalidGitReference:
		return fmt.Sprintf("invalid git reference %q", e.Subject)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Hint returns advice for the operator on how to recover from e.
func (e *Error) Hint() string {
	return e.Kind.Hint()
}

// Hint returns advice for the operator on how to recover from an error of kind k.
func (k Kind) Hint() string {
	switch k {
	case KindNameAlreadyTaken:
		return "choose a different name or tear the existing infrastructure down first"
	case KindInfrastructureDoesNotExistYet:
		return "check the spelling or create it with `mtenv setup`"
	case KindTestbedDoesNotExistYet:
		return "run `mtenv init` first"
	case KindVersionArgumentNeeded:
		return "pass one or more versions, e.g. `4.2` or `4.1.3`"
	case KindInvalidMoodleVersion:
		return "check that a release tag for this version exists upstream"
	case KindUnsupportedMoodleVersion:
		return "the version predates every entry of the php compatibility table"
	case KindMoodleTestEnvironmentDoesNotExistYet:
		return "build it first with `mtenv build`"
	case KindInvalidGitReference:
		return "reference types are branch, commit, pr and tag; check that the reference exists"
	}
	return ""
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
