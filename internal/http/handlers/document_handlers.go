package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/http/response"
	"github.com/fieldserve/fieldserve-api/internal/numbering"
)

func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}

	var req domain.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	doc, err := h.documents.Create(r.Context(), owner, &req)
	if err != nil {
		if errors.Is(err, domain.ErrNumberConflict) {
			response.Conflict(w, "Could not allocate a document number, retry the request")
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	response.JSON(w, http.StatusCreated, doc)
}

func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	doc, err := h.documents.Get(r.Context(), id, owner)
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

func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}

	var f domain.ListFilter
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		dt := domain.DocType(v)
		if !domain.IsValidDocType(dt) {
			response.BadRequest(w, "Unknown document type")
			return
		}
		f.DocType = &dt
	}
	if v := q.Get("status"); v != "" {
		st := domain.DocStatus(v)
		f.Status = &st
	}
	f.IncludeArchived = q.Get("include_archived") == "true"
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	docs, err := h.documents.List(r.Context(), owner, f)
	if err != nil {
		response.InternalError(w, "Could not list documents")
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	var req domain.UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	doc, err := h.documents.Update(r.Context(), id, owner, &req)
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

func (h *Handlers) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *Handlers) UnarchiveDocument(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *Handlers) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	var svcErr error
	if archived {
		svcErr = h.documents.Archive(r.Context(), id, owner)
	} else {
		svcErr = h.documents.Unarchive(r.Context(), id, owner)
	}
	if svcErr != nil {
		if errors.Is(svcErr, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not update document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SendDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	doc, err := h.documents.Send(r.Context(), id, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not send document")
		return
	}

	response.JSON(w, http.StatusOK, doc)
}

// RotateTokens reissues both capability tokens, killing every link
// previously sent for the document.
func (h *Handlers) RotateTokens(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	accept, payment, err := h.documents.MintTokens(r.Context(), id, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not rotate tokens")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{
		"accept_token":  accept.String(),
		"payment_token": payment.String(),
	})
}

func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}
	id, r, err := documentID(r)
	if err != nil {
		response.BadRequest(w, "Invalid document id")
		return
	}

	if err := h.documents.Delete(r.Context(), id, owner); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Document not found")
			return
		}
		response.InternalError(w, "Could not delete document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type prefixesRequest struct {
	QuotePrefix   string `json:"quote_prefix"`
	InvoicePrefix string `json:"invoice_prefix"`
	ReceiptPrefix string `json:"receipt_prefix"`
}

func (h *Handlers) UpdatePrefixes(w http.ResponseWriter, r *http.Request) {
	owner, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}

	var req prefixesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	for _, p := range []string{req.QuotePrefix, req.InvoicePrefix, req.ReceiptPrefix} {
		if p != "" && !numbering.ValidPrefix(p) {
			response.BadRequest(w, "Prefixes must contain only letters")
			return
		}
	}

	if err := h.documents.UpdatePrefixes(r.Context(), owner, req.QuotePrefix, req.InvoicePrefix, req.ReceiptPrefix); err != nil {
		response.InternalError(w, "Could not save prefixes")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
