// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the decode pipeline.
var (
	// Capture errors
	ErrCaptureOverflow = errors.New("zwiftmon: captured frame truncated, capture buffer undersized")
	ErrSourceClosed    = errors.New("zwiftmon: capture source closed")
	ErrSourceNotOpen   = errors.New("zwiftmon: capture source not open")
	// ErrReadTimeout means no frame arrived within the poll timeout; retry.
	ErrReadTimeout = errors.New("zwiftmon: capture read timeout")

	// ErrUnsupportedLink is returned for sources whose link type is not Ethernet.
	ErrUnsupportedLink = errors.New("zwiftmon: unsupported link type")

	// Monitor lifecycle errors
	ErrMonitorRunning = errors.New("zwiftmon: monitor already running")
	ErrMonitorStopped = errors.New("zwiftmon: monitor stopped")

	// Configuration errors
	ErrConfigInvalid = errors.New("zwiftmon: invalid configuration")
)
