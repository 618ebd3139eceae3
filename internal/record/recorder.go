// Package record persists call outcomes as durable Logged Call entries.
//
// DESIGN: Every dispatch attempt produces exactly one entry, written at
// most once and never updated — a call is terminal once recorded. The
// write happens off the caller's response path (see Async): its failures
// go to the observability sink and are dropped, never retried inline and
// never surfaced to the caller.
package record

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openpipe/completions-gateway/internal/gwerr"
	"github.com/openpipe/completions-gateway/internal/usage"
)

// Entry is one Logged Call: the durable record of a completion attempt.
type Entry struct {
	ID              string
	ProjectID       string
	CustomModelSlug string // empty for upstream calls
	RequestedAt     time.Time
	ReceivedAt      time.Time
	ReqPayload      json.RawMessage
	RespPayload     json.RawMessage // nil on failure
	StatusCode      int
	ErrorMessage    string
	Usage           *usage.Usage // nil when usage could not be computed
	Tags            map[string]string
}

// Validate checks the entry's own invariants.
func (e *Entry) Validate() error {
	if e.ProjectID == "" {
		return gwerr.Validation("logged call requires a project")
	}
	if len(e.ReqPayload) == 0 {
		return gwerr.Validation("logged call requires a request payload")
	}
	if e.ReceivedAt.Before(e.RequestedAt) {
		return gwerr.Validation("requestedAt must precede receivedAt")
	}
	return nil
}

// Recorder is the append-only recording contract. Implementations must not
// update or delete previously written entries.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}
