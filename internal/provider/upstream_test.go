package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpipe/completions-gateway/internal/gwerr"
)

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

func TestUpstream_Success(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}],"usage":{"prompt_tokens":9,"completion_tokens":1,"total_tokens":10}}`))
	}))
	defer srv.Close()

	p := &UpstreamProvider{BaseURL: srv.URL, APIKey: "sk-test"}
	outcome, err := p.Invoke(context.Background(), chatRequest("gpt-4"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)

	require.Equal(t, KindCompletion, outcome.Kind)
	assert.Equal(t, "cmpl-1", outcome.Completion.ID)
	require.NotNil(t, outcome.Completion.Usage)
	assert.Equal(t, 9, outcome.Completion.Usage.PromptTokens)
}

func TestUpstream_ErrorStatusPassesThrough(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"rate limited", 429, `{"error":{"message":"Rate limit reached"}}`, 429, "Rate limit reached"},
		{"upstream 500", 500, `{"error":{"message":"internal"}}`, 500, "internal"},
		{"plain text body", 503, "overloaded", 503, "overloaded"},
		{"empty body", 502, "", 502, http.StatusText(502)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := &UpstreamProvider{BaseURL: srv.URL}
			_, err := p.Invoke(context.Background(), chatRequest("gpt-4"))

			ge := gwerr.Translate(err)
			assert.Equal(t, gwerr.CodeUpstream, ge.Code)
			assert.Equal(t, tt.wantStatus, ge.StatusCode)
			assert.Equal(t, tt.wantMsg, ge.Message)
		})
	}
}

func TestUpstream_NetworkFailureIsBadRequest(t *testing.T) {
	p := &UpstreamProvider{
		BaseURL:    "http://127.0.0.1:1", // nothing listens here
		HTTPClient: &http.Client{Timeout: 200 * time.Millisecond},
	}
	_, err := p.Invoke(context.Background(), chatRequest("gpt-4"))

	ge := gwerr.Translate(err)
	assert.Equal(t, gwerr.CodeBadRequest, ge.Code)
}

func TestUpstream_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"id\":\"cmpl-s1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"He\"}}]}\n\n"))
		_, _ = w.Write([]byte(": keepalive comment\n\n"))
		_, _ = w.Write([]byte("data: {\"id\":\"cmpl-s1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"y\"},\"finish_reason\":\"stop\"}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	req := chatRequest("gpt-4")
	req.Stream = true

	p := &UpstreamProvider{BaseURL: srv.URL}
	outcome, err := p.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, KindStream, outcome.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunks, err := outcome.Stream.Drain(ctx)
	require.NoError(t, err)

	// The comment line is skipped; [DONE] terminates without being emitted.
	require.Len(t, chunks, 2)
	assert.Contains(t, string(chunks[0]), `"content":"He"`)
	assert.Contains(t, string(chunks[1]), `"finish_reason":"stop"`)
}

func TestUpstream_StreamTruncatedBodyEndsCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Connection ends without [DONE]: chunks so far are still delivered.
		_, _ = w.Write([]byte("data: {\"id\":\"cmpl-s2\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n\n"))
	}))
	defer srv.Close()

	req := chatRequest("gpt-4")
	req.Stream = true

	p := &UpstreamProvider{BaseURL: srv.URL}
	outcome, err := p.Invoke(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunks, err := outcome.Stream.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, string(chunks[0]), "partial")
}
