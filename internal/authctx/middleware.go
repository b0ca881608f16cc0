package authctx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-wms/meridian-wms/internal/platform/httpx"
	"github.com/meridian-wms/meridian-wms/internal/shared"
)

// Verifier resolves a bearer credential to a token row.
type Verifier interface {
	Verify(ctx context.Context, credential string) (APIToken, error)
}

// Middleware authenticates requests via the Authorization header and stores
// the resolved actor in the request context.
func Middleware(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := bearerToken(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			token, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				if logger != nil {
					logger.Debug("token rejected", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}
			actor := &shared.Actor{
				UserID:      token.UserID,
				CompanyID:   token.CompanyID,
				WarehouseID: token.WarehouseID,
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
