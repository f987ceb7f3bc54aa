package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/http/response"
	"github.com/fieldserve/fieldserve-api/internal/token"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

const webhookMaxBody = 65536

// StripeWebhook applies successful payments to the invoice named by
// the payment_token metadata on the payment intent. Unknown tokens are
// acknowledged with 200 so Stripe stops redelivering events we can
// never apply.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		response.BadRequest(w, "Could not read payload")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.config.Stripe.WebhookSecret)
	if err != nil {
		response.BadRequest(w, "Invalid webhook signature")
		return
	}

	if event.Type != "payment_intent.succeeded" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		response.BadRequest(w, "Invalid event payload")
		return
	}

	paymentToken := intent.Metadata["payment_token"]
	if !token.Valid(paymentToken) {
		logger.WarnContext(r.Context(), "Payment intent without a usable payment_token", "intent_id", intent.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	doc, err := h.documents.MarkPaidByToken(r.Context(), token.Token(paymentToken), intent.AmountReceived)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(r.Context(), "Payment for unknown token", "intent_id", intent.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.ErrorContext(r.Context(), "Failed to apply payment", "error", err, "intent_id", intent.ID)
		response.InternalError(w, "Could not apply payment")
		return
	}

	logger.InfoContext(r.Context(), "Payment applied",
		"document_id", doc.ID, "number", doc.Number, "status", doc.Status)
	w.WriteHeader(http.StatusOK)
}
