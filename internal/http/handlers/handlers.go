package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldserve/fieldserve-api/internal/http/response"
	"github.com/fieldserve/fieldserve-api/internal/service"
	"github.com/fieldserve/fieldserve-api/pkg/auth"
	"github.com/fieldserve/fieldserve-api/pkg/config"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

type contextKey string

const claimsKey contextKey = "claims"

type Handlers struct {
	authService service.AuthService
	documents   service.DocumentService
	config      *config.Config
}

func New(authService service.AuthService, documents service.DocumentService, config *config.Config) *Handlers {
	return &Handlers{
		authService: authService,
		documents:   documents,
		config:      config,
	}
}

// RequireAuth authenticates the owner session JWT and stashes the
// claims on the request context.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(w, "Missing or invalid authorization header")
			return
		}

		claims, err := auth.Parse(strings.TrimPrefix(authHeader, "Bearer "), h.config.Auth.JWTSecret)
		if err != nil {
			response.Unauthorized(w, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), logger.AccountIDKey, claims.Sub)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) (int64, bool) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok {
		return 0, false
	}
	return claims.Sub, true
}

// documentID parses the {id} route param and tags the request context
// so log lines emitted further down carry the document id.
func documentID(r *http.Request) (int64, *http.Request, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, r, err
	}
	ctx := context.WithValue(r.Context(), logger.DocumentIDKey, id)
	return id, r.WithContext(ctx), nil
}
