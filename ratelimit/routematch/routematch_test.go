package routematch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acton-service/acton-service/config"
)

// TestS4RoutePriority is the spec's seed scenario S4.
func TestS4RoutePriority(t *testing.T) {
	routes := map[string]config.RouteRateLimitConfig{
		"/api/v1/*":              {RequestsPerMinute: 100},
		"/api/v1/users":          {RequestsPerMinute: 50},
		"POST /api/v1/uploads":   {RequestsPerMinute: 10},
	}
	p := Compile(routes)

	cfg, ok := p.Match("GET", "/api/v1/users")
	require.True(t, ok)
	assert.Equal(t, 50, cfg.RequestsPerMinute)

	cfg, ok = p.Match("GET", "/api/v1/posts")
	require.True(t, ok)
	assert.Equal(t, 100, cfg.RequestsPerMinute)

	cfg, ok = p.Match("POST", "/api/v1/uploads")
	require.True(t, ok)
	assert.Equal(t, 10, cfg.RequestsPerMinute)

	cfg, ok = p.Match("GET", "/api/v1/uploads")
	require.True(t, ok)
	assert.Equal(t, 100, cfg.RequestsPerMinute)
}

func TestNormalizePathReplacesUUIDsAndNumericIDs(t *testing.T) {
	assert.Equal(t, "/api/v1/users/{id}", NormalizePath("/api/v1/users/123"))
	assert.Equal(t, "/api/v1/docs/{id}", NormalizePath("/api/v1/docs/550e8400-e29b-41d4-a716-446655440000"))
	assert.Equal(t, "/v1/users/{id}", NormalizePath("/v1/users/42"))
}

func TestNormalizePathIdempotent(t *testing.T) {
	paths := []string{
		"/api/v1/users/123",
		"/api/v1/docs/550e8400-e29b-41d4-a716-446655440000",
		"/v2/plain",
	}
	for _, p := range paths {
		once := NormalizePath(p)
		twice := NormalizePath(once)
		assert.Equal(t, once, twice)
	}
}

func TestPlaceholderAndDoubleWildcardSpecificity(t *testing.T) {
	routes := map[string]config.RouteRateLimitConfig{
		"/api/**":           {RequestsPerMinute: 10},
		"/api/{id}/details": {RequestsPerMinute: 20},
	}
	p := Compile(routes)

	cfg, ok := p.Match("GET", "/api/123/details")
	require.True(t, ok)
	assert.Equal(t, 20, cfg.RequestsPerMinute)
}

func TestNoMatchReturnsFalse(t *testing.T) {
	p := Compile(map[string]config.RouteRateLimitConfig{"/known": {RequestsPerMinute: 1}})
	_, ok := p.Match("GET", "/unknown")
	assert.False(t, ok)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, Compile(nil).IsEmpty())
	assert.False(t, Compile(map[string]config.RouteRateLimitConfig{"/x": {}}).IsEmpty())
}
