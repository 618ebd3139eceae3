package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpipe/completions-gateway/internal/provider"
	"github.com/openpipe/completions-gateway/internal/record"
	"github.com/openpipe/completions-gateway/internal/usage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(projectID string) *record.Entry {
	now := time.Now().UTC()
	return &record.Entry{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		RequestedAt: now,
		ReceivedAt:  now,
		ReqPayload:  json.RawMessage(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`),
		StatusCode:  200,
		Tags:        map[string]string{"prompt_id": "chat-v1"},
	}
}

func TestStore_RecordAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := entry("proj-a")
	e.RespPayload = json.RawMessage(`{"id":"cmpl-1","choices":[]}`)
	e.Usage = &usage.Usage{InputTokens: 10, OutputTokens: 20, Cost: 0.0015}
	require.NoError(t, s.Record(ctx, e))

	n, err := s.CountLoggedCalls(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountLoggedCalls(ctx, "proj-b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_RecordIsAdditiveNotUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Same payload reported twice means two attempts, two rows.
	first, second := entry("proj-a"), entry("proj-a")
	second.ReqPayload = first.ReqPayload
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))

	n, err := s.CountLoggedCalls(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_RecordRejectsInvalidEntry(t *testing.T) {
	s := openTestStore(t)
	bad := entry("")
	assert.Error(t, s.Record(context.Background(), bad))
}

func TestStore_FailedCallRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := entry("proj-a")
	e.StatusCode = 404
	e.ErrorMessage = `model "openpipe:missing" was not found`
	require.NoError(t, s.Record(ctx, e))

	totals, err := s.Totals(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Calls)
	assert.Equal(t, int64(1), totals.Failures)
	assert.Zero(t, totals.InputTokens)
	assert.Zero(t, totals.Cost)
}

func TestStore_Totals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok := entry("proj-a")
	ok.Usage = &usage.Usage{InputTokens: 100, OutputTokens: 50, Cost: 0.006}
	require.NoError(t, s.Record(ctx, ok))

	failed := entry("proj-a")
	failed.StatusCode = 403
	require.NoError(t, s.Record(ctx, failed))

	other := entry("proj-b")
	other.Usage = &usage.Usage{InputTokens: 7, OutputTokens: 7, Cost: 0.001}
	require.NoError(t, s.Record(ctx, other))

	totals, err := s.Totals(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Calls)
	assert.Equal(t, int64(1), totals.Failures)
	assert.Equal(t, int64(100), totals.InputTokens)
	assert.Equal(t, int64(50), totals.OutputTokens)
	assert.InDelta(t, 0.006, totals.Cost, 1e-9)
}

func TestStore_LookupCustomModel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seeded := &provider.CustomModelRecord{
		ID:                "cm-1",
		ProjectID:         "proj-a",
		Slug:              "support-bot",
		ServingEndpoint:   "http://serving.internal/v1",
		Ready:             true,
		InputCostPerMTok:  1.2,
		OutputCostPerMTok: 1.6,
	}
	require.NoError(t, s.SeedCustomModel(ctx, seeded))

	got, err := s.LookupCustomModel(ctx, "support-bot")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "proj-a", got.ProjectID)
	assert.Equal(t, "http://serving.internal/v1", got.ServingEndpoint)
	assert.True(t, got.Ready)
	assert.Equal(t, 1.2, got.InputCostPerMTok)
}

func TestStore_LookupMissingModelIsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LookupCustomModel(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
