// Package store is the sqlite-backed durable layer: the append-only
// logged-call log and the read-only custom model lookup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openpipe/completions-gateway/internal/provider"
	"github.com/openpipe/completions-gateway/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS logged_calls (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	custom_model_slug TEXT,
	requested_at      TIMESTAMP NOT NULL,
	received_at       TIMESTAMP NOT NULL,
	req_payload       TEXT NOT NULL,
	resp_payload      TEXT,
	status_code       INTEGER NOT NULL,
	error_message     TEXT,
	input_tokens      INTEGER,
	output_tokens     INTEGER,
	cost              REAL,
	tags              TEXT NOT NULL DEFAULT '{}',
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logged_calls_project ON logged_calls(project_id, created_at);

CREATE TABLE IF NOT EXISTS custom_models (
	slug                 TEXT PRIMARY KEY,
	id                   TEXT NOT NULL,
	project_id           TEXT NOT NULL,
	serving_endpoint     TEXT NOT NULL,
	ready                INTEGER NOT NULL DEFAULT 0,
	input_cost_per_mtok  REAL NOT NULL DEFAULT 0,
	output_cost_per_mtok REAL NOT NULL DEFAULT 0
);
`

// Store wraps the sqlite database. It implements record.Recorder and
// provider.CustomModelStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database round-trips (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Record appends one logged call. Append-only: entries are never updated
// or deleted by the gateway.
func (s *Store) Record(ctx context.Context, e *record.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	var slug, respPayload, errMsg any
	if e.CustomModelSlug != "" {
		slug = e.CustomModelSlug
	}
	if len(e.RespPayload) > 0 {
		respPayload = string(e.RespPayload)
	}
	if e.ErrorMessage != "" {
		errMsg = e.ErrorMessage
	}

	var inputTokens, outputTokens, cost any
	if e.Usage != nil {
		inputTokens = e.Usage.InputTokens
		outputTokens = e.Usage.OutputTokens
		cost = e.Usage.Cost
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logged_calls (
			id, project_id, custom_model_slug, requested_at, received_at,
			req_payload, resp_payload, status_code, error_message,
			input_tokens, output_tokens, cost, tags, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, slug, e.RequestedAt, e.ReceivedAt,
		string(e.ReqPayload), respPayload, e.StatusCode, errMsg,
		inputTokens, outputTokens, cost, string(tagsJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert logged call: %w", err)
	}
	return nil
}

// LookupCustomModel returns the deployed model for slug, or (nil, nil)
// when no such model exists. The gateway never writes this table; it is
// owned by the training/deployment subsystem.
func (s *Store) LookupCustomModel(ctx context.Context, slug string) (*provider.CustomModelRecord, error) {
	rec := &provider.CustomModelRecord{Slug: slug}
	var ready int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, serving_endpoint, ready, input_cost_per_mtok, output_cost_per_mtok
		FROM custom_models WHERE slug = ?`, slug,
	).Scan(&rec.ID, &rec.ProjectID, &rec.ServingEndpoint, &ready, &rec.InputCostPerMTok, &rec.OutputCostPerMTok)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup custom model: %w", err)
	}
	rec.Ready = ready != 0
	return rec, nil
}

// SeedCustomModel inserts or replaces a custom model row. This is the
// deployment subsystem's side of the contract, exposed here for local
// setups and tests.
func (s *Store) SeedCustomModel(ctx context.Context, rec *provider.CustomModelRecord) error {
	ready := 0
	if rec.Ready {
		ready = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO custom_models
			(slug, id, project_id, serving_endpoint, ready, input_cost_per_mtok, output_cost_per_mtok)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Slug, rec.ID, rec.ProjectID, rec.ServingEndpoint, ready, rec.InputCostPerMTok, rec.OutputCostPerMTok,
	)
	return err
}

// ProjectTotals aggregates durable per-project counters for the stats
// endpoint.
type ProjectTotals struct {
	Calls        int64   `json:"calls"`
	Failures     int64   `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Totals computes aggregate counters over all logged calls of a project.
func (s *Store) Totals(ctx context.Context, projectID string) (*ProjectTotals, error) {
	t := &ProjectTotals{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM logged_calls WHERE project_id = ?`, projectID,
	).Scan(&t.Calls, &t.Failures, &t.InputTokens, &t.OutputTokens, &t.Cost)
	if err != nil {
		return nil, fmt.Errorf("project totals: %w", err)
	}
	return t, nil
}

// CountLoggedCalls returns the number of logged calls for a project.
func (s *Store) CountLoggedCalls(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logged_calls WHERE project_id = ?", projectID).Scan(&n)
	return n, err
}
