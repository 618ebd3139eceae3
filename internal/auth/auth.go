// Package auth resolves caller credentials to a project identity.
//
// Session issuance and user management live outside the gateway; this is
// only the lookup from a bearer API key to the project it belongs to plus
// its capability flags.
package auth

import (
	"net/http"
	"strings"

	"github.com/openpipe/completions-gateway/internal/gwerr"
)

// Caller is the authenticated identity for one request. Read-only within a
// request's lifetime.
type Caller struct {
	ProjectID string
	ReadOnly  bool
}

// Key is one configured API key.
type Key struct {
	Token     string
	ProjectID string
	ReadOnly  bool
}

// Resolver maps bearer tokens to callers.
type Resolver struct {
	keys map[string]Caller
}

// NewResolver builds a resolver from configured keys.
func NewResolver(keys []Key) *Resolver {
	m := make(map[string]Caller, len(keys))
	for _, k := range keys {
		m[k.Token] = Caller{ProjectID: k.ProjectID, ReadOnly: k.ReadOnly}
	}
	return &Resolver{keys: m}
}

// FromRequest extracts and resolves the caller from an HTTP request.
// Accepts "Authorization: Bearer <key>" or an "x-api-key" header.
func (r *Resolver) FromRequest(req *http.Request) (Caller, error) {
	token := req.Header.Get("x-api-key")
	if token == "" {
		if h := req.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return Caller{}, gwerr.Forbidden("missing API key")
	}
	caller, ok := r.keys[token]
	if !ok {
		return Caller{}, gwerr.Forbidden("invalid API key")
	}
	return caller, nil
}
