// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultPort is the gateway listen port.
const DefaultPort = 8472

// DefaultReadTimeout for the HTTP server.
const DefaultReadTimeout = 60 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultUpstreamTimeout bounds one provider call end to end.
const DefaultUpstreamTimeout = 10 * time.Minute

// =============================================================================
// UPSTREAM PROVIDER
// =============================================================================

// DefaultUpstreamBaseURL is the external completion API.
const DefaultUpstreamBaseURL = "https://api.openai.com/v1"

// UpstreamAuthAPIKey authenticates upstream calls with a bearer API key.
const UpstreamAuthAPIKey = "api_key"

// UpstreamAuthSigV4 signs upstream calls with the ambient AWS credential
// chain instead of forwarding an API key.
const UpstreamAuthSigV4 = "sigv4"

// =============================================================================
// STORE
// =============================================================================

// DefaultStorePath is the sqlite database location.
const DefaultStorePath = "gateway.db"
