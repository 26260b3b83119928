package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/cache/memory"
	"github.com/prn-tf/premium-keys/internal/pkg/crypto"
)

// Config contains configuration for the auth middleware.
type Config struct {
	// TokenHash is the bcrypt hash of the admin token. Empty disables the admin API.
	TokenHash string

	// VerifiedTTL is how long a verified token is remembered.
	VerifiedTTL time.Duration

	// Cache remembers verified tokens. Nil verifies every request with bcrypt.
	Cache *memory.Cache
}

// Middleware creates an admin authentication middleware.
func Middleware(config Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	if config.VerifiedTTL <= 0 {
		config.VerifiedTTL = DefaultVerifiedTTL
	}
	logger = logger.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := authenticate(r, config)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("Admin authentication failed")
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AuthContextKey, authCtx)))
		})
	}
}

func authenticate(r *http.Request, config Config) (*AuthContext, error) {
	if config.TokenHash == "" {
		return nil, ErrAdminDisabled
	}

	token, err := ParseBearer(r.Header.Get(AuthorizationHeader))
	if err != nil {
		return nil, err
	}

	tokenID := fingerprint(token)
	authCtx := &AuthContext{TokenID: tokenID[:12], AuthenticatedAt: time.Now().UTC()}

	if config.Cache != nil {
		if ok, _ := config.Cache.Exists(r.Context(), cacheKey(tokenID)); ok {
			authCtx.Cached = true
			return authCtx, nil
		}
	}

	if err := crypto.VerifyAdminToken(config.TokenHash, token); err != nil {
		if errors.Is(err, crypto.ErrTokenMismatch) {
			return nil, ErrAccessDenied
		}
		return nil, err
	}

	if config.Cache != nil {
		_ = config.Cache.Set(r.Context(), cacheKey(tokenID), []byte{1}, config.VerifiedTTL)
	}
	return authCtx, nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, BearerScheme) {
		return "", ErrInvalidAuthorizationHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidAuthorizationHeader
	}
	return token, nil
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func cacheKey(tokenID string) string {
	return "auth:verified:" + tokenID
}

// writeAuthError writes a JSON error response in the API's envelope.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("Content-Type", "application/json")
	if authErr.HTTPStatus == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", BearerScheme)
	}
	w.WriteHeader(authErr.HTTPStatus)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   authErr.Message,
	})
}
