package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	httpmiddleware "github.com/fieldserve/fieldserve-api/internal/http/middleware"
	"github.com/fieldserve/fieldserve-api/internal/http/response"
	"github.com/fieldserve/fieldserve-api/internal/token"
)

// Public handlers serve clients holding a capability token; there is
// no session and no owner id anywhere on these paths. A token that
// does not resolve is indistinguishable from a document that does not
// exist.

func publicToken(w http.ResponseWriter, r *http.Request) (token.Token, bool) {
	t := chi.URLParam(r, "token")
	if !token.Valid(t) {
		response.NotFound(w, "Document not found")
		return "", false
	}
	return token.Token(t), true
}

func (h *Handlers) PublicGetDocument(w http.ResponseWriter, r *http.Request) {
	tok, ok := publicToken(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetByToken(r.Context(), tok)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not load document")
		return
	}

	response.JSON(w, http.StatusOK, doc)
}

func (h *Handlers) PublicAcceptDocument(w http.ResponseWriter, r *http.Request) {
	tok, ok := publicToken(w, r)
	if !ok {
		return
	}

	var req domain.AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	doc, err := h.documents.AcceptByToken(r.Context(), tok, &req, httpmiddleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, doc)
}

func (h *Handlers) PublicDeclineDocument(w http.ResponseWriter, r *http.Request) {
	tok, ok := publicToken(w, r)
	if !ok {
		return
	}

	var req domain.DeclineRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Invalid JSON format")
			return
		}
	}

	doc, err := h.documents.DeclineByToken(r.Context(), tok, &req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not decline document")
		return
	}

	response.JSON(w, http.StatusOK, doc)
}

type tokenPatchRequest struct {
	Status *domain.DocStatus `json:"status,omitempty"`
	PaidAt *time.Time        `json:"paid_at,omitempty"`
}

// PublicUpdateDocument patches the bounded field set reachable through
// a capability token. Payment collaborators that confirm out of band
// call this with the payment token instead of the Stripe webhook.
func (h *Handlers) PublicUpdateDocument(w http.ResponseWriter, r *http.Request) {
	tok, ok := publicToken(w, r)
	if !ok {
		return
	}

	var req tokenPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if req.Status != nil && !domain.IsValidStatus(*req.Status) {
		response.BadRequest(w, "Unknown status")
		return
	}

	doc, err := h.documents.UpdateByToken(r.Context(), tok, domain.TokenPatch{
		Status: req.Status,
		PaidAt: req.PaidAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not update document")
		return
	}

	response.JSON(w, http.StatusOK, doc)
}
