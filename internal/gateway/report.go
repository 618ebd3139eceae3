package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openpipe/completions-gateway/internal/config"
	"github.com/openpipe/completions-gateway/internal/gwerr"
	"github.com/openpipe/completions-gateway/internal/provider"
	"github.com/openpipe/completions-gateway/internal/record"
	"github.com/openpipe/completions-gateway/internal/tags"
	"github.com/openpipe/completions-gateway/internal/usage"
)

// reportBody is the externally-driven recording request: the caller
// executed the completion itself and reports the outcome after the fact.
type reportBody struct {
	RequestedAt  *time.Time      `json:"requestedAt,omitempty"`
	ReceivedAt   *time.Time      `json:"receivedAt,omitempty"`
	ReqPayload   json.RawMessage `json:"reqPayload"`
	RespPayload  json.RawMessage `json:"respPayload,omitempty"`
	StatusCode   int             `json:"statusCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Tags         map[string]any  `json:"tags,omitempty"`
}

// handleReport records a client-side-executed call. Usage is recomputed
// server-side from the supplied payloads; a caller-supplied usage figure
// is never trusted. Read-only credentials are rejected before anything is
// written. Reporting is additive: identical payloads produce distinct rows.
func (g *Gateway) handleReport(w http.ResponseWriter, r *http.Request) {
	caller, err := g.auth.FromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if caller.ReadOnly {
		writeError(w, gwerr.Forbidden("read-only credentials cannot report calls"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, gwerr.Validation("failed to read request body"))
		return
	}

	var body reportBody
	if uerr := json.Unmarshal(raw, &body); uerr != nil {
		writeError(w, gwerr.Validation("malformed report payload: %s", uerr))
		return
	}
	if len(body.ReqPayload) == 0 {
		writeError(w, gwerr.Validation("reqPayload is required"))
		return
	}

	callTags, err := tags.ParseMap(body.Tags)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	receivedAt := now
	if body.ReceivedAt != nil {
		receivedAt = body.ReceivedAt.UTC()
	}
	requestedAt := receivedAt
	if body.RequestedAt != nil {
		requestedAt = body.RequestedAt.UTC()
	}

	// Recompute usage server-side. A payload that does not parse as a
	// completion exchange yields unset usage, not an error: the raw
	// payloads are still worth logging.
	var req *provider.Request
	var completion *provider.Completion
	if decoded := new(provider.Request); json.Unmarshal(body.ReqPayload, decoded) == nil && decoded.Model != "" {
		req = decoded
	}
	if len(body.RespPayload) > 0 {
		if decoded := new(provider.Completion); json.Unmarshal(body.RespPayload, decoded) == nil {
			completion = decoded
		}
	}

	slug, rec := "", (*provider.CustomModelRecord)(nil)
	if req != nil {
		if cut, ok := strings.CutPrefix(req.Model, provider.CustomModelPrefix); ok {
			slug = cut
			// The cost basis applies only to the caller's own models;
			// for anything else the slug is stored as a weak reference.
			if found, lerr := g.store.LookupCustomModel(r.Context(), cut); lerr == nil &&
				found != nil && found.ProjectID == caller.ProjectID {
				rec = found
			}
		}
	}
	u := usage.Calculate(req, completion, rec)

	statusCode := body.StatusCode
	if statusCode == 0 {
		if len(body.RespPayload) > 0 {
			statusCode = http.StatusOK
		} else {
			statusCode = http.StatusBadRequest
		}
	}

	entry := &record.Entry{
		ID:              uuid.New().String(),
		ProjectID:       caller.ProjectID,
		CustomModelSlug: slug,
		RequestedAt:     requestedAt,
		ReceivedAt:      receivedAt,
		ReqPayload:      body.ReqPayload,
		RespPayload:     body.RespPayload,
		StatusCode:      statusCode,
		ErrorMessage:    body.ErrorMessage,
		Usage:           u,
		Tags:            callTags,
	}
	if verr := entry.Validate(); verr != nil {
		writeError(w, verr)
		return
	}

	// Written synchronously so the returned status is truthful; report is
	// not on a latency-sensitive response path.
	w.Header().Set("Content-Type", "application/json")
	if rerr := g.store.Record(r.Context(), entry); rerr != nil {
		g.reporter.Report(rerr, map[string]any{"entry_id": entry.ID, "project_id": caller.ProjectID})
		log.Error().Err(rerr).Str("project", caller.ProjectID).Msg("report write failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		return
	}
	g.tracker.RecordCall(caller.ProjectID, u, statusCode >= 400)

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
