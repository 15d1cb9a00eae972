package client

import "errors"

var (
	// ErrDaemonNotRunning is returned when no session is serving the socket
	ErrDaemonNotRunning = errors.New("no climb session running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the monitor
	ErrNotFound = errors.New("404 not found")

	// ErrConflict is returned when the session can no longer take the request
	ErrConflict = errors.New("409 conflict")
)
