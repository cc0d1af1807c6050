// Package constants defines magic numbers and default values used throughout httpcore
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout     = 90 * time.Second
	DefaultConnTimeout     = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultPingInterval    = 15 * time.Second
	MaxConnectionIdleTime  = 5 * time.Minute
	HealthCheckInterval    = 30 * time.Second
	CleanupInterval        = 30 * time.Second
)

// HTTP/2 limits
const (
	MaxTotalStreams       = 10000
	SettingsAckTimeout    = 10 * time.Second
	DefaultHpackTableSize = 4096
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// HTTP/1.1 header framing limits
const (
	MaxHeaderListBytes = 256 * 1024 // 256KiB accumulated response header lines
)

// Follow-up and retry limits
const (
	MaxFollowUps = 20
)

// Proxy CONNECT limits
const (
	MaxProxyAuthAttempts = 3
)

// Bridge interceptor defaults
const (
	DefaultUserAgent = "httpcore/1.0"
)

// Dispatcher limits
const (
	MaxInFlightCalls = 64
	MaxCallsPerHost  = 5
)

// WebSocket defaults
const (
	DefaultCloseTimeout  = 60 * time.Second
	DefaultMaxQueueBytes = 16 * 1024 * 1024 // 16MB bounded outgoing queue
	DefaultPingPeriod    = 0                // disabled unless configured
)
