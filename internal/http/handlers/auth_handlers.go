package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/http/response"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			response.WriteError(w, http.StatusConflict, "Email is already registered", response.CodeEmailExists)
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	response.JSON(w, http.StatusCreated, resp)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			response.Unauthorized(w, "Invalid email or password")
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, resp)
}

// RequestLoginCode always answers 200 for well-formed requests so the
// endpoint does not reveal which addresses have accounts. Store
// failures are logged and swallowed for the same reason.
func (h *Handlers) RequestLoginCode(w http.ResponseWriter, r *http.Request) {
	var req domain.CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		response.BadRequest(w, "A valid email address is required")
		return
	}

	if err := h.authService.RequestCode(r.Context(), &req); err != nil {
		logger.ErrorContext(r.Context(), "Failed to issue login code", "error", err)
	}

	response.JSON(w, http.StatusOK, map[string]string{
		"message": "Login code sent to your email",
	})
}

func (h *Handlers) VerifyLoginCode(w http.ResponseWriter, r *http.Request) {
	var req domain.CodeVerify
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.VerifyCode(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCode):
			response.WriteError(w, http.StatusUnauthorized, "Invalid or already used code", response.CodeInvalidCode)
		case errors.Is(err, domain.ErrCodeExpired):
			response.WriteError(w, http.StatusUnauthorized, "Code has expired, request a new one", response.CodeExpiredCode)
		default:
			response.BadRequest(w, err.Error())
		}
		return
	}

	response.JSON(w, http.StatusOK, resp)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		response.Unauthorized(w, "Missing authentication")
		return
	}

	account, err := h.authService.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Account not found")
			return
		}
		response.InternalError(w, "Could not load account")
		return
	}

	response.JSON(w, http.StatusOK, account.ToAccountInfo())
}
