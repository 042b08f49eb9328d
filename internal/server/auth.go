package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/me/flowserve/pkg/model"
)

const ctxKeyTokenID ctxKey = "token_id"

// TokenIDFromContext returns the hash of the token that authenticated the
// request, or "" when the API is open.
func TokenIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyTokenID).(string); ok {
		return id
	}
	return ""
}

// hashToken creates a short hash of the token for logging purposes.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:8])
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// tokenAuthMiddleware requires one of tokens as a bearer token.
// If no tokens are configured, authentication is disabled (open access).
func tokenAuthMiddleware(tokens []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			reqID := RequestIDFromContext(r.Context())

			token := bearerToken(r)
			if token == "" {
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "authentication required (Authorization: Bearer header missing)",
				})
				return
			}
			if !validToken(tokens, token) {
				logger.Warn("invalid api token", "token_hash", hashToken(token), "path", r.URL.Path)
				respondError(w, reqID, http.StatusUnauthorized, &model.APIError{
					Code:    model.ErrUnauthorized,
					Message: "invalid api token",
				})
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyTokenID, hashToken(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validToken(tokens []string, token string) bool {
	ok := false
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			ok = true
		}
	}
	return ok
}
