package shared

import "errors"

var (
	// ErrUnauthenticated indicates no caller identity was supplied.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied indicates the caller is not a registered operator.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
