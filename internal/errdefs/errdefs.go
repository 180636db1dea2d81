// Package errdefs defines the stable error kinds surfaced across the
// command boundary. Every failure in the engine is classified as one of
// these kinds so that CLI and GUI callers can map errors to machine-readable
// codes without parsing message strings.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error code.
type Kind string

const (
	ManifestParseError        Kind = "MANIFEST_PARSE_ERROR"
	MissingField              Kind = "MISSING_FIELD"
	ValidationError           Kind = "VALIDATION_ERROR"
	UnsupportedVersion        Kind = "UNSUPPORTED_VERSION"
	PathTraversalAttempt      Kind = "PATH_TRAVERSAL_ATTEMPT"
	CorruptedArchive          Kind = "CORRUPTED_ARCHIVE"
	InvalidSignature          Kind = "INVALID_SIGNATURE"
	HashMismatch              Kind = "HASH_MISMATCH"
	InsufficientPermissions   Kind = "INSUFFICIENT_PERMISSIONS"
	TargetPathExists          Kind = "TARGET_PATH_EXISTS"
	DiskSpaceInsufficient     Kind = "DISK_SPACE_INSUFFICIENT"
	ServiceRegistrationFailed Kind = "SERVICE_REGISTRATION_FAILED"
	DesktopEntryFailed        Kind = "DESKTOP_ENTRY_FAILED"
	IoError                   Kind = "IO_ERROR"
	PackageNotInstalled       Kind = "PACKAGE_NOT_INSTALLED"
	MetadataCorrupted         Kind = "METADATA_CORRUPTED"
	OperationInProgress       Kind = "OPERATION_IN_PROGRESS"
)

// Error carries a kind plus enough structured context to render a precise
// user-facing message: the offending path, expected vs actual values for
// hash/version mismatches, and the phase in which the failure occurred.
type Error struct {
	Kind     Kind
	Path     string
	Expected string
	Actual   string
	Phase    string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Path != "" {
		s += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.Expected != "" || e.Actual != "" {
		s += fmt.Sprintf(" (expected: %s, actual: %s)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two errdefs errors by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error under the given kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithPath attaches the offending path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithPhase attaches the phase in which the error occurred.
func (e *Error) WithPhase(phase string) *Error {
	e.Phase = phase
	return e
}

// WithDetail attaches expected vs actual values.
func (e *Error) WithDetail(expected, actual string) *Error {
	e.Expected = expected
	e.Actual = actual
	return e
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of err, or IoError when err is not a classified
// engine error. Callers at the command boundary use this for exit codes.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IoError
}
