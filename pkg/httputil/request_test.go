package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=50", nil)
	p := ParsePagination(req, 10, 100)
	assert.Equal(t, 25, p.Limit)
	assert.Equal(t, 50, p.Offset)

	// Defaults apply when absent or garbage
	req = httptest.NewRequest(http.MethodGet, "/?limit=banana&offset=-3", nil)
	p = ParsePagination(req, 10, 100)
	assert.Equal(t, 10, p.Limit)
	assert.Zero(t, p.Offset)

	// The cap wins over oversized requests
	req = httptest.NewRequest(http.MethodGet, "/?limit=9999", nil)
	p = ParsePagination(req, 10, 100)
	assert.Equal(t, 100, p.Limit)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}

func TestWantsJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	assert.False(t, WantsJSON(req))

	req.Header.Set("Accept", "application/json")
	assert.True(t, WantsJSON(req))

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, WantsJSON(req))

	req = httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	assert.True(t, WantsJSON(req))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"civic"}`))
	var p payload
	require.NoError(t, DecodeJSON(req, &p))
	assert.Equal(t, "civic", p.Name)

	// Unknown fields are rejected
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"civic","vin":"x"}`))
	assert.Error(t, DecodeJSON(req, &p))

	// Malformed bodies are rejected
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, DecodeJSON(req, &p))
}
