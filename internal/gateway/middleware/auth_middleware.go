package middleware

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// AuthenticatedTenantContextKey holds the tenant id of the caller.
	AuthenticatedTenantContextKey = ContextKey("authenticatedTenant")
)

// AuthConfig carries the credentials the middleware validates against.
type AuthConfig struct {
	// JWTSecret is the HMAC secret for Bearer tokens (HS256).
	JWTSecret string
	// APIKeyFingerprints is the allow-list of SHA3-256 hex fingerprints for
	// ApiKey credentials. Raw keys are never stored in config.
	APIKeyFingerprints []string
}

// FingerprintAPIKey returns the SHA3-256 hex fingerprint of a raw API key.
func FingerprintAPIKey(key string) string {
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware authenticates requests carrying either
// "Authorization: Bearer <jwt>" or "Authorization: ApiKey <key>".
func AuthMiddleware(cfg AuthConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	fingerprints := make(map[string]struct{}, len(cfg.APIKeyFingerprints))
	for _, fp := range cfg.APIKeyFingerprints {
		fingerprints[strings.ToLower(fp)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			var tenantID string
			switch parts[0] {
			case "Bearer":
				claims := jwt.MapClaims{}
				token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.JWTSecret), nil
				})
				if err != nil || !token.Valid {
					logger.WarnContext(r.Context(), "Token validation failed", "error", err)
					http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
					return
				}
				tenantID, _ = claims.GetSubject()
			case "ApiKey":
				fp := FingerprintAPIKey(parts[1])
				if _, ok := fingerprints[fp]; !ok {
					logger.WarnContext(r.Context(), "Unknown API key", "fingerprint", fp)
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				tenantID = "apikey:" + fp[:12]
			default:
				logger.WarnContext(r.Context(), "Unsupported Authorization scheme", "scheme", parts[0])
				http.Error(w, "Unsupported Authorization scheme", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AuthenticatedTenantContextKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
