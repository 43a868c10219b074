package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jacobsprake/munin-sub000/pkg/auth"
)

func TestRateLimitKeysOnClientIP(t *testing.T) {
	s := &Server{limiter: auth.NewActorLimiter(0, 1)}
	h := s.rateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
		r.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1111"))
	// Same source from a different port shares the bucket.
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:2222"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1111"))
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc123", "abc123"},
		{"abc123", "abc123"},
		{"Basic dXNlcjpwYXNz", ""},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		assert.Equal(t, c.want, bearerToken(r), "header %q", c.header)
	}
}
