// errors.go - Sentinel errors shared across handlers and stores.
package server

import "errors"

var (
	// ErrDependencyUnavailable is returned by the readiness gate when a
	// dependent service never came up. Always fatal at startup.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrDuplicateAccount is returned on registration when the account
	// name is already taken.
	ErrDuplicateAccount = errors.New("account name already taken")

	// ErrAuthenticationFailed covers both unknown-name and
	// wrong-password login failures. Callers must not distinguish the
	// two to avoid account enumeration.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNoAccount is returned by AccountStore lookups that match nothing.
	ErrNoAccount = errors.New("no such account")

	// ErrUploadFailed wraps object-store errors during an upload.
	ErrUploadFailed = errors.New("upload failed")
)

// ValidationError is a rejected-input failure whose message is safe to
// show to the user. Anything else coming out of registration is an
// internal error and must not reach the page.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }
