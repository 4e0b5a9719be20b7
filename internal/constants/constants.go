// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Enrollment constants
const (
	// EnrollConcurrency is the default number of people processed in parallel
	// when building identity records
	EnrollConcurrency = 4

	// MaxImageSize is the maximum dimension (width or height) of an enrollment
	// image sent to the embedding server
	MaxImageSize = 1920

	// IdentitySourceExt is the required extension of identity source files
	IdentitySourceExt = ".json"
)

// Recognition constants
const (
	// NeighborCount is the number of gallery neighbours queried per face
	NeighborCount = 2
)

// Server constants
const (
	// DefaultWebPort is the port the web server listens on when WEB_PORT is unset
	DefaultWebPort = 1333

	// DefaultWebHost is the bind address when WEB_HOST is unset
	DefaultWebHost = "0.0.0.0"
)
