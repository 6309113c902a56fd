package server

import "errors"

// Sentinel errors returned by the hub and session layer.
var (
	// ErrDeviceNotConnected is returned when no live session exists for a
	// device identity.
	ErrDeviceNotConnected = errors.New("server: device not connected")

	// ErrSessionClosed is returned when writing to a session that has
	// already been closed.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrServerClosed is returned by Start after a clean Stop.
	ErrServerClosed = errors.New("server: closed")
)
