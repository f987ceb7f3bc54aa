package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount attaches every route to the router. The login-code limiter
// and the idempotency middleware are injected so tests can run the
// routes without a database or Redis behind them.
func (h *Handlers) Mount(r chi.Router, loginCodeLimiter, idempotency func(http.Handler) http.Handler) {
	passthrough := func(next http.Handler) http.Handler { return next }
	if loginCodeLimiter == nil {
		loginCodeLimiter = passthrough
	}
	if idempotency == nil {
		idempotency = passthrough
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(loginCodeLimiter).Post("/code/request", h.RequestLoginCode)
		r.Post("/code/verify", h.VerifyLoginCode)
		r.With(h.RequireAuth).Get("/me", h.Me)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.With(idempotency).Post("/", h.CreateDocument)
		r.Get("/", h.ListDocuments)
		r.Get("/{id}", h.GetDocument)
		r.Patch("/{id}", h.UpdateDocument)
		r.Delete("/{id}", h.DeleteDocument)
		r.Post("/{id}/archive", h.ArchiveDocument)
		r.Post("/{id}/unarchive", h.UnarchiveDocument)
		r.Post("/{id}/send", h.SendDocument)
		r.Post("/{id}/tokens", h.RotateTokens)
	})

	r.With(h.RequireAuth).Put("/settings/prefixes", h.UpdatePrefixes)

	r.Route("/d/{token}", func(r chi.Router) {
		r.Get("/", h.PublicGetDocument)
		r.Patch("/", h.PublicUpdateDocument)
		r.Post("/accept", h.PublicAcceptDocument)
		r.Post("/decline", h.PublicDeclineDocument)
	})

	r.Post("/webhooks/stripe", h.StripeWebhook)
}
