// Package gateway is the HTTP surface of the completion gateway.
//
// DESIGN: Request flow:
//   - handleChatCompletions(): normalize -> dispatch -> respond,
//     recording exactly one logged call per attempt off the response path
//   - handleReport():          externally-executed calls reported after the fact
//   - handleHealth():          liveness with a storage round-trip
//   - handleStats():           per-project usage counters
//
// Client-perceived latency is bounded by provider latency only: the
// logged-call write always happens after the response (or error) has been
// dispatched, behind its own error boundary.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openpipe/completions-gateway/internal/auth"
	"github.com/openpipe/completions-gateway/internal/config"
	"github.com/openpipe/completions-gateway/internal/obs"
	"github.com/openpipe/completions-gateway/internal/provider"
	"github.com/openpipe/completions-gateway/internal/record"
	"github.com/openpipe/completions-gateway/internal/store"
	"github.com/openpipe/completions-gateway/internal/usage"
)

// HeaderRequestID lets callers supply their own request correlation ID.
const HeaderRequestID = "X-Request-ID"

// Gateway wires the routing, accounting and recording pipeline behind the
// HTTP handlers.
type Gateway struct {
	cfg      *config.Config
	auth     *auth.Resolver
	router   *provider.Router
	store    *store.Store
	recorder *record.Async
	tracker  *usage.Tracker
	reporter obs.Reporter
}

// New assembles a gateway from its collaborators. reporter may be nil, in
// which case background failures go to the structured log.
func New(cfg *config.Config, st *store.Store, reporter obs.Reporter) *Gateway {
	if reporter == nil {
		reporter = obs.LogReporter{}
	}

	keys := make([]auth.Key, 0, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		keys = append(keys, auth.Key{Token: k.Token, ProjectID: k.Project, ReadOnly: k.ReadOnly})
	}

	httpClient := &http.Client{Timeout: config.DefaultUpstreamTimeout}
	upstream := &provider.UpstreamProvider{
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		HTTPClient: httpClient,
	}
	if cfg.Upstream.Auth == config.UpstreamAuthSigV4 {
		upstream.Signer = provider.NewSigV4Signer(context.Background(), cfg.Upstream.Region, cfg.Upstream.Service)
	}

	return &Gateway{
		cfg:  cfg,
		auth: auth.NewResolver(keys),
		router: &provider.Router{
			Models:   st,
			Custom:   &provider.CustomProvider{HTTPClient: httpClient},
			Upstream: upstream,
		},
		store:    st,
		recorder: record.NewAsync(st, reporter),
		tracker:  usage.NewTracker(),
		reporter: reporter,
	}
}

// Handler returns the route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", g.handleChatCompletions)
	mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("POST /report", g.handleReport)
	mux.HandleFunc("POST /v1/report", g.handleReport)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /v1/stats", g.handleStats)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully and drains
// in-flight log writes.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", g.cfg.Server.Port),
		Handler:      g.Handler(),
		ReadTimeout:  g.cfg.Server.ReadTimeout,
		WriteTimeout: g.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", g.cfg.Server.Port).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
	g.recorder.Flush()
	return nil
}

// Flush waits for in-flight log writes. Exposed for tests and shutdown.
func (g *Gateway) Flush() {
	g.recorder.Flush()
}

// handleHealth returns gateway health status, degrading when the log store
// stops round-tripping.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	if err := g.store.Ping(r.Context()); err != nil {
		health["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleStats returns per-project counters: durable totals from the log
// store plus the in-memory tracker's live view.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	caller, err := g.auth.FromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	totals, err := g.store.Totals(r.Context(), caller.ProjectID)
	if err != nil {
		log.Error().Err(err).Str("project", caller.ProjectID).Msg("stats query failed")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"project_id": caller.ProjectID,
		"totals":     totals,
		"live":       g.tracker.Snapshot(caller.ProjectID),
	})
}

// requestID gets or generates a request correlation ID.
func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}
