package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/openpipe/completions-gateway/internal/auth"
	"github.com/openpipe/completions-gateway/internal/config"
	"github.com/openpipe/completions-gateway/internal/gwerr"
	"github.com/openpipe/completions-gateway/internal/provider"
	"github.com/openpipe/completions-gateway/internal/record"
	"github.com/openpipe/completions-gateway/internal/stream"
	"github.com/openpipe/completions-gateway/internal/tags"
	"github.com/openpipe/completions-gateway/internal/usage"
)

// writeError renders an error in the outward taxonomy.
func writeError(w http.ResponseWriter, err error) {
	gwerr.Write(w, err)
}

// handleChatCompletions is the entry point for completion requests.
// Exactly one logged call is written per dispatch attempt, success or
// failure, always off the response path.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestedAt := time.Now().UTC()
	reqID := requestID(r)

	caller, err := g.auth.FromRequest(r)
	if err != nil {
		// No project resolved, so there is nothing to log the call under.
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		verr := gwerr.Validation("failed to read request body")
		g.failCall(caller, "", requestedAt, body, verr, nil)
		writeError(w, verr)
		return
	}

	// Tags travel in the body but are gateway metadata, not provider input.
	callTags, err := tags.Parse([]byte(gjson.GetBytes(body, "tags").Raw))
	if err != nil {
		g.failCall(caller, "", requestedAt, body, err, nil)
		writeError(w, err)
		return
	}
	forwardBody, _ := sjson.DeleteBytes(body, "tags")

	var req provider.Request
	if uerr := json.Unmarshal(forwardBody, &req); uerr != nil {
		verr := gwerr.Validation("malformed request payload: %s", uerr)
		g.failCall(caller, "", requestedAt, body, verr, callTags)
		writeError(w, verr)
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		verr := gwerr.Validation("model and messages are required")
		g.failCall(caller, "", requestedAt, body, verr, callTags)
		writeError(w, verr)
		return
	}

	log.Info().
		Str("request_id", reqID).
		Str("project", caller.ProjectID).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Msg("dispatching completion")

	outcome, rec, err := g.router.Dispatch(r.Context(), caller, &req)
	if err != nil {
		g.failCall(caller, recSlug(rec), requestedAt, body, err, callTags)
		writeError(w, err)
		return
	}

	switch outcome.Kind {
	case provider.KindCompletion:
		respBody, merr := json.Marshal(outcome.Completion)
		if merr != nil {
			verr := gwerr.BadRequest("failed to encode response: %s", merr)
			g.failCall(caller, recSlug(rec), requestedAt, body, verr, callTags)
			writeError(w, verr)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(respBody)

		g.finishCall(caller, rec, requestedAt, body, &req, outcome.Completion, respBody, "", callTags)

	case provider.KindStream:
		callerBranch, acctBranch := stream.Tee(outcome.Stream)
		// The accounting branch is drained independently of the caller's
		// consumption rate and survives a caller disconnect.
		go g.accountStream(caller, rec, requestedAt, body, &req, acctBranch, callTags)
		g.streamToCaller(w, r, callerBranch)
	}
}

// streamToCaller relays the caller-facing branch as server-sent events.
func (g *Gateway) streamToCaller(w http.ResponseWriter, r *http.Request, s *stream.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, gwerr.BadRequest("streaming unsupported by transport"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := s.Recv(r.Context())
		if err != nil {
			if err == io.EOF {
				_, _ = w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
			} else {
				// Mid-stream failure or client disconnect: the response has
				// already begun, there is nothing structured left to send.
				log.Debug().Err(err).Msg("caller stream ended early")
			}
			return
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", chunk); werr != nil {
			log.Debug().Err(werr).Msg("client disconnected")
			return
		}
		flusher.Flush()
	}
}

// accountStream drains the accounting branch to the provider's stream end,
// assembles the partial or full completion, and records the call. Its own
// failures are reported and dropped, never propagated to the caller branch.
func (g *Gateway) accountStream(caller auth.Caller, rec *provider.CustomModelRecord,
	requestedAt time.Time, reqPayload []byte, req *provider.Request,
	s *stream.Stream, callTags map[string]string) {

	defer func() {
		if r := recover(); r != nil {
			g.reporter.Report(fmt.Errorf("accounting consumer panic: %v", r), map[string]any{
				"project_id": caller.ProjectID,
			})
		}
	}()

	chunks, streamErr := s.Drain(context.Background())
	if streamErr != nil {
		g.reporter.Report(fmt.Errorf("stream ended abnormally: %w", streamErr), map[string]any{
			"project_id": caller.ProjectID, "chunks": len(chunks),
		})
	}

	// Partial output still gets billed and logged.
	completion := usage.AssembleChunks(chunks)
	var respPayload []byte
	if completion != nil {
		respPayload, _ = json.Marshal(completion)
	}

	errMsg := ""
	if streamErr != nil {
		errMsg = streamErr.Error()
	}
	g.finishCall(caller, rec, requestedAt, reqPayload, req, completion, respPayload, errMsg, callTags)
}

// finishCall computes usage and records a completed (possibly partial)
// call. The durable write is launched fire-and-forget; the caller path
// never waits on it.
func (g *Gateway) finishCall(caller auth.Caller, rec *provider.CustomModelRecord,
	requestedAt time.Time, reqPayload []byte, req *provider.Request,
	completion *provider.Completion, respPayload []byte, errMsg string,
	callTags map[string]string) {

	u := usage.Calculate(req, completion, rec)
	g.tracker.RecordCall(caller.ProjectID, u, false)

	g.recorder.Launch(&record.Entry{
		ID:              uuid.New().String(),
		ProjectID:       caller.ProjectID,
		CustomModelSlug: recSlug(rec),
		RequestedAt:     requestedAt,
		ReceivedAt:      time.Now().UTC(),
		ReqPayload:      reqPayload,
		RespPayload:     respPayload,
		StatusCode:      http.StatusOK,
		ErrorMessage:    errMsg,
		Usage:           u,
		Tags:            callTags,
	})
}

// failCall records a dispatch failure as a first-class logged outcome:
// translated status code, error message, null response payload, usage
// unset.
func (g *Gateway) failCall(caller auth.Caller, slug string, requestedAt time.Time,
	reqPayload []byte, err error, callTags map[string]string) {

	ge := gwerr.Translate(err)
	g.tracker.RecordCall(caller.ProjectID, nil, true)

	if len(reqPayload) == 0 {
		// Even an unreadable request produces a logged call.
		reqPayload = []byte("{}")
	}
	g.recorder.Launch(&record.Entry{
		ID:              uuid.New().String(),
		ProjectID:       caller.ProjectID,
		CustomModelSlug: slug,
		RequestedAt:     requestedAt,
		ReceivedAt:      time.Now().UTC(),
		ReqPayload:      reqPayload,
		StatusCode:      ge.StatusCode,
		ErrorMessage:    ge.Message,
		Tags:            callTags,
	})
}

func recSlug(rec *provider.CustomModelRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Slug
}
