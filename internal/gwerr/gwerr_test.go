package gwerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{"validation", Validation("bad tags"), CodeValidation, 400},
		{"not found", NotFound("no such model"), CodeNotFound, 404},
		{"forbidden", Forbidden("wrong project"), CodeForbidden, 403},
		{"bad request", BadRequest("dispatch failed"), CodeBadRequest, 400},
		{"upstream 429", Upstream(429, "rate limited"), CodeUpstream, 429},
		{"upstream 503", Upstream(503, "overloaded"), CodeUpstream, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
		})
	}
}

func TestUpstream_NormalizesBogusStatus(t *testing.T) {
	// A provider error must never masquerade as success.
	assert.Equal(t, http.StatusBadGateway, Upstream(200, "weird").StatusCode)
	assert.Equal(t, http.StatusBadGateway, Upstream(0, "weird").StatusCode)
	assert.Equal(t, http.StatusBadGateway, Upstream(700, "weird").StatusCode)
}

func TestTranslate_PassesTaxonomyThrough(t *testing.T) {
	orig := NotFound("model %q was not found", "openpipe:missing")
	got := Translate(fmt.Errorf("dispatch: %w", orig))
	assert.Equal(t, orig, got)
}

func TestTranslate_DefaultsToBadRequest(t *testing.T) {
	got := Translate(errors.New("connection refused"))
	assert.Equal(t, CodeBadRequest, got.Code)
	assert.Equal(t, 400, got.StatusCode)
	assert.Contains(t, got.Message, "connection refused")
}

func TestTranslate_Nil(t *testing.T) {
	assert.Nil(t, Translate(nil))
}

func TestWrite_StableErrorObject(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, Forbidden("model does not belong to this project"))

	assert.Equal(t, 403, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, CodeForbidden, body.Error.Code)
	assert.Equal(t, "model does not belong to this project", body.Error.Message)
}
