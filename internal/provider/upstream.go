package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/openpipe/completions-gateway/internal/gwerr"
	"github.com/openpipe/completions-gateway/internal/stream"
)

// maxErrorBodySize bounds how much of an upstream error body is read.
const maxErrorBodySize = 64 * 1024

// UpstreamProvider forwards normalized requests to the external completion
// API. Provider-reported API errors keep their own status code
// (pass-through); network and decode failures become BadRequest.
type UpstreamProvider struct {
	BaseURL    string
	APIKey     string
	Signer     *SigV4Signer // optional, for SigV4-authenticated endpoints
	HTTPClient *http.Client
}

// Invoke forwards req verbatim and returns the polymorphic outcome.
func (p *UpstreamProvider) Invoke(ctx context.Context, req *Request) (*Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gwerr.BadRequest("failed to encode request: %s", err)
	}

	url := strings.TrimRight(p.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.BadRequest("failed to build upstream request: %s", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if p.Signer != nil && p.Signer.IsConfigured() {
		if err := p.Signer.SignRequest(ctx, httpReq, body); err != nil {
			return nil, gwerr.BadRequest("failed to sign upstream request: %s", err)
		}
	} else if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.client().Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("upstream request failed")
		return nil, gwerr.BadRequest("upstream request failed: %s", err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("upstream error response")
		return nil, gwerr.Upstream(resp.StatusCode, upstreamErrorMessage(errBody, resp.StatusCode))
	}

	if req.Stream {
		s := stream.New()
		go consumeSSE(resp.Body, s)
		return &Outcome{Kind: KindStream, Stream: s}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	var completion Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, gwerr.BadRequest("failed to decode upstream response: %s", err)
	}
	return &Outcome{Kind: KindCompletion, Completion: &completion}, nil
}

func (p *UpstreamProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// upstreamErrorMessage pulls the provider's own message out of an error
// body, falling back to the raw body or a generic status line.
func upstreamErrorMessage(body []byte, status int) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) <= 500 {
		return trimmed
	}
	return http.StatusText(status)
}
