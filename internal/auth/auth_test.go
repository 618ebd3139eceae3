package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return NewResolver([]Key{
		{Token: "sk-full", ProjectID: "proj-a"},
		{Token: "sk-ro", ProjectID: "proj-a", ReadOnly: true},
		{Token: "sk-other", ProjectID: "proj-b"},
	})
}

func TestFromRequest_APIKeyHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "/chat/completions", nil)
	req.Header.Set("x-api-key", "sk-full")

	caller, err := testResolver().FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "proj-a", caller.ProjectID)
	assert.False(t, caller.ReadOnly)
}

func TestFromRequest_BearerHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-ro")

	caller, err := testResolver().FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "proj-a", caller.ProjectID)
	assert.True(t, caller.ReadOnly)
}

func TestFromRequest_MissingKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/chat/completions", nil)
	_, err := testResolver().FromRequest(req)
	assert.Error(t, err)
}

func TestFromRequest_UnknownKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/chat/completions", nil)
	req.Header.Set("x-api-key", "sk-bogus")
	_, err := testResolver().FromRequest(req)
	assert.Error(t, err)
}
