package http2

import "fmt"

// Settings configures the SETTINGS frame Session sends on connection
// establishment. Trimmed from the teacher's Options (which also carried
// TLS, proxy, and connection-pool fields now owned by pkg/tlsconfig,
// pkg/route, and pkg/pool respectively) down to the HTTP/2 SETTINGS
// parameters Session actually negotiates.
type Settings struct {
	// MaxConcurrentStreams advertises SETTINGS_MAX_CONCURRENT_STREAMS.
	MaxConcurrentStreams uint32

	// InitialWindowSize advertises SETTINGS_INITIAL_WINDOW_SIZE.
	InitialWindowSize uint32

	// MaxFrameSize advertises SETTINGS_MAX_FRAME_SIZE.
	MaxFrameSize uint32

	// HeaderTableSize advertises SETTINGS_HEADER_TABLE_SIZE.
	HeaderTableSize uint32

	// DisableServerPush sends SETTINGS_ENABLE_PUSH=0; server push is out of
	// scope for this client regardless.
	DisableServerPush bool
}

// DefaultSettings mirrors the teacher's DefaultOptions SETTINGS values,
// aligned with Go's native net/http2 defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentStreams: 100,
		InitialWindowSize:    defaultWindowSize,
		MaxFrameSize:         16384,
		HeaderTableSize:      4096,
		DisableServerPush:    true,
	}
}

// ValidateSettings checks RFC 7540 §6.5.2's bounds on SETTINGS values.
func ValidateSettings(s Settings) error {
	if s.MaxFrameSize != 0 && (s.MaxFrameSize < 16384 || s.MaxFrameSize > 16777215) {
		return fmt.Errorf("MaxFrameSize must be between 16384 and 16777215 (RFC 7540), got %d", s.MaxFrameSize)
	}
	if s.InitialWindowSize > (1<<31 - 1) {
		return fmt.Errorf("InitialWindowSize must not exceed 2147483647 (2^31-1), got %d", s.InitialWindowSize)
	}
	return nil
}
