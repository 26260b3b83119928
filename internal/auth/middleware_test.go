package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/premium-keys/internal/cache/memory"
	"github.com/prn-tf/premium-keys/internal/pkg/crypto"
)

const testToken = "s3cret-admin-token"

func newProtected(t *testing.T, config Config) (http.Handler, *int) {
	t.Helper()
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		authCtx, err := RequireAuth(r.Context())
		require.NoError(t, err)
		assert.Len(t, authCtx.TokenID, 12)
		w.WriteHeader(http.StatusNoContent)
	})
	return Middleware(config, zerolog.Nop())(next), &calls
}

func TestMiddleware(t *testing.T) {
	hash, err := crypto.HashAdminToken(testToken)
	require.NoError(t, err)

	tests := []struct {
		name       string
		hash       string
		header     string
		wantStatus int
	}{
		{name: "valid token", hash: hash, header: "Bearer " + testToken, wantStatus: http.StatusNoContent},
		{name: "scheme is case insensitive", hash: hash, header: "bearer " + testToken, wantStatus: http.StatusNoContent},
		{name: "missing header", hash: hash, header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", hash: hash, header: "Basic " + testToken, wantStatus: http.StatusUnauthorized},
		{name: "empty token", hash: hash, header: "Bearer  ", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", hash: hash, header: "Bearer nope", wantStatus: http.StatusForbidden},
		{name: "admin disabled", hash: "", header: "Bearer " + testToken, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, calls := newProtected(t, Config{TokenHash: tt.hash})

			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				require.Equal(t, 1, *calls)
				return
			}
			require.Equal(t, 0, *calls)
			require.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestMiddleware_CachesVerifiedToken(t *testing.T) {
	hash, err := crypto.HashAdminToken(testToken)
	require.NoError(t, err)

	cache := memory.NewCache(time.Minute)
	t.Cleanup(cache.Stop)

	var cached []bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cached = append(cached, GetAuthContext(r.Context()).Cached)
	})
	h := Middleware(Config{TokenHash: hash, Cache: cache}, zerolog.Nop())(next)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AuthorizationHeader, "Bearer "+testToken)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, []bool{false, true}, cached)
	require.Equal(t, 1, cache.Len())

	// A wrong token is never cached.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AuthorizationHeader, "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 1, cache.Len())
}

func TestParseBearer(t *testing.T) {
	token, err := ParseBearer("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = ParseBearer("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = ParseBearer("Bearer")
	require.ErrorIs(t, err, ErrInvalidAuthorizationHeader)

	require.Nil(t, GetAuthContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
