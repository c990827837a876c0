package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"circle_go/internal/domain"
	"circle_go/internal/service"
)

type contextKey string

const profileContextKey contextKey = "currentProfile"

// WithProfile returns a new context carrying the current profile.
func WithProfile(ctx context.Context, p *domain.Profile) context.Context {
	return context.WithValue(ctx, profileContextKey, p)
}

// CurrentUser extracts the current profile from context, if any.
func CurrentUser(r *http.Request) *domain.Profile {
	if v := r.Context().Value(profileContextKey); v != nil {
		if p, ok := v.(*domain.Profile); ok {
			return p
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the profile to the context.
func AuthMiddleware(auth *service.AuthService, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			profile, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				if errors.Is(err, domain.ErrAuthRequired) {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				log.Error().Err(err).Msg("auth: resolve profile")
				writeDomainError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}
