package middleware

import (
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/auth"
	"github.com/josh-kwaku/tutor-settlement/internal/handler"
	"github.com/josh-kwaku/tutor-settlement/internal/logging"
)

// Auth admits internal services holding a token signed with secret. When
// allowed is non-empty the token's service must be listed in it.
func Auth(secret string, allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logging.FromContext(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				appErr := handler.ErrInvalidToken
				if r.Header.Get("Authorization") == "" {
					appErr = handler.ErrMissingToken
				}
				handler.RespondAppError(w, appErr, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				log.Warn("rejected service token", zap.Error(err))
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			if len(allowed) > 0 && !slices.Contains(allowed, claims.Service) {
				log.Warn("service not allowed", zap.String("caller", claims.Service))
				handler.RespondAppError(w, handler.ErrServiceForbidden, nil)
				return
			}

			ctx := auth.ContextWithService(r.Context(), claims.Service)
			ctx = logging.WithLogger(ctx, log.With(zap.String("caller", claims.Service)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
