package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/openpipe/completions-gateway/internal/gwerr"
	"github.com/openpipe/completions-gateway/internal/stream"
)

// CustomProvider invokes a deployed custom model's serving endpoint. The
// serving layer speaks the same completion shape as the upstream API, so
// both providers yield an identical Outcome. Every invocation failure is
// surfaced as BadRequest wrapping the serving layer's own message; the
// gateway never silently substitutes a different model.
type CustomProvider struct {
	HTTPClient *http.Client
}

// Invoke calls rec's serving endpoint with the normalized request. The
// request's model field is rewritten to the bare slug: the serving layer
// knows nothing about the gateway's namespace marker.
func (p *CustomProvider) Invoke(ctx context.Context, rec *CustomModelRecord, req *Request) (*Outcome, error) {
	serving := *req
	serving.Model = rec.Slug

	body, err := json.Marshal(&serving)
	if err != nil {
		return nil, gwerr.BadRequest("failed to encode request: %s", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.ServingEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.BadRequest("failed to build serving request: %s", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("model", rec.Slug).Msg("serving request failed")
		return nil, gwerr.BadRequest("model invocation failed: %s", err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		msg := gjson.GetBytes(errBody, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		log.Warn().Int("status", resp.StatusCode).Str("model", rec.Slug).Msg("serving error response")
		return nil, gwerr.BadRequest("model invocation failed: %s", msg)
	}

	if req.Stream {
		s := stream.New()
		go consumeSSE(resp.Body, s)
		return &Outcome{Kind: KindStream, Stream: s}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	var completion Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, gwerr.BadRequest("failed to decode serving response: %s", err)
	}
	return &Outcome{Kind: KindCompletion, Completion: &completion}, nil
}

func (p *CustomProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}
