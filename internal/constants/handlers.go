// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Streaming response constants
const (
	// MJPEGBoundary separates parts of the multipart/x-mixed-replace video feed
	MJPEGBoundary = "frame"

	// SSEKeepAlive is the interval between SSE comment pings
	SSEKeepAlive = 15 * time.Second

	// WebSocketWriteTimeout bounds a single WebSocket write
	WebSocketWriteTimeout = 5 * time.Second

	// WebSocketPingInterval is the interval between WebSocket pings
	WebSocketPingInterval = 30 * time.Second
)

// Request limits
const (
	// MaxFormSize is the maximum size of form-encoded request bodies in bytes (1MB)
	MaxFormSize = 1 << 20

	// MaxJSONBodySize is the maximum size of JSON request bodies in bytes (1MB)
	MaxJSONBodySize = 1 << 20

	// MaxRosterUploadSize is the maximum size of an uploaded roster file (10MB)
	MaxRosterUploadSize = 10 << 20

	// StopTimeout bounds how long /end waits for the run to wind down
	StopTimeout = 10 * time.Second
)
