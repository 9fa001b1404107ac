package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration indicates missing or conflicting client
	// configuration. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstream indicates the hosting platform rejected a request.
	ErrUpstream = errors.New("upstream error")

	// ErrTimeout indicates authorization was not completed before the
	// caller's wall-clock deadline.
	ErrTimeout = errors.New("authorization timed out")

	// ErrExpired indicates the device code expired on the platform side.
	ErrExpired = errors.New("device code expired")

	// ErrDenied indicates the user refused the authorization request.
	ErrDenied = errors.New("authorization denied")

	// ErrValidation indicates a malformed command batch.
	ErrValidation = errors.New("invalid command")

	// ErrNotFound indicates a missing file, branch or session.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a file or branch precondition clash.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransientGit indicates a push failed on a missing upstream even
	// after the single internal retry.
	ErrTransientGit = errors.New("transient git error")

	// ErrNotDetected indicates no usable repository was found from a
	// workspace path.
	ErrNotDetected = errors.New("repository not detected")

	// ErrNotAuthenticated indicates an operation needs an authenticated
	// session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// UpstreamError is a rejection reported by the hosting platform.
type UpstreamError struct {
	// Status is the HTTP status code, zero when unknown.
	Status int
	// Code is the platform error discriminator (e.g.
	// "incorrect_client_credentials").
	Code string
	// Message is the platform supplied description.
	Message string
}

func (e *UpstreamError) Error() string {
	var sb strings.Builder

	sb.WriteString("upstream")

	if e.Status != 0 {
		fmt.Fprintf(&sb, ": HTTP %d", e.Status)
	}

	if e.Code != "" {
		fmt.Fprintf(&sb, ": %s", e.Code)
	}

	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}

	return sb.String()
}

// Is makes UpstreamError match ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// ValidationError identifies the first malformed command of a batch.
type ValidationError struct {
	// Index is the position of the command in the submitted batch.
	Index int
	// Step is the command's ordering key.
	Step int
	// Kind is the command kind as submitted.
	Kind string
	// Reason describes the violated rule.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"invalid command at index %d (step %d, kind %q): %s",
		e.Index, e.Step, e.Kind, e.Reason,
	)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
