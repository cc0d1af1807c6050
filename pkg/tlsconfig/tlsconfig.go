// Package tlsconfig builds the two tls.Config profiles pkg/conn's
// upgradeTLS applies for route.TLSModeModern and route.TLSModeCompatible
// (spec.md §4.H step 3): Modern negotiates TLS 1.2/1.3 with AEAD-only
// cipher suites, Compatible widens the floor to TLS 1.0 and allows CBC
// suites for servers whose Modern handshake failed. Grounded on the
// teacher's pkg/tlsconfig version/cipher-suite tables, trimmed to the
// two tiers httpcore's route planner actually retries between.
package tlsconfig

import (
	"crypto/tls"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// VersionProfile is a named TLS version range backing one route.TLSMode.
type VersionProfile struct {
	Min  uint16
	Max  uint16
	Name string
}

var (
	// ProfileModern backs route.TLSModeModern.
	ProfileModern = VersionProfile{Min: tls.VersionTLS12, Max: tls.VersionTLS13, Name: "modern"}

	// ProfileCompatible backs route.TLSModeCompatible, the planner's
	// fallback after a Modern handshake attempt fails.
	ProfileCompatible = VersionProfile{Min: tls.VersionTLS10, Max: tls.VersionTLS13, Name: "compatible"}
)

// GetVersionName returns a human-readable TLS version name, for log lines
// and Handshake.String().
func GetVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown TLS version"
	}
}

// AEADCipherSuites is the Modern profile's TLS 1.2 suite list (TLS 1.3
// ignores tls.Config.CipherSuites and always negotiates AEAD itself).
var AEADCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// CompatibleCipherSuites is the Compatible profile's suite list: the AEAD
// suites above plus CBC-mode suites for TLS 1.0/1.1 servers.
var CompatibleCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
}

// GetCipherSuiteName returns a human-readable cipher suite name, for log
// lines and Handshake.String(). crypto/tls.CipherSuiteName covers this
// since Go 1.14; wrapped here so callers depend on one package for every
// TLS descriptor they print.
func GetCipherSuiteName(suite uint16) string {
	return tls.CipherSuiteName(suite)
}

// ApplyVersionProfile applies profile's version range to config. It
// rejects a profile with Min > Max, which would make every handshake
// fail with a confusing crypto/tls error instead of a clear one here.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) error {
	if profile.Min > profile.Max {
		return errors.NewValidationError("tlsconfig: profile " + profile.Name + " has Min > Max")
	}
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
	return nil
}

// ApplyCipherSuites sets config's cipher suite list for the profile whose
// floor is minVersion. TLS 1.3 negotiates its own suites regardless of
// this list, so a minVersion of TLS 1.3 sets CipherSuites to nil.
func ApplyCipherSuites(config *tls.Config, minVersion uint16) {
	switch {
	case minVersion >= tls.VersionTLS13:
		config.CipherSuites = nil
	case minVersion >= tls.VersionTLS12:
		config.CipherSuites = AEADCipherSuites
	default:
		config.CipherSuites = CompatibleCipherSuites
	}
}
