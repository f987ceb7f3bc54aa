package domain

import (
	"fmt"
	"strings"
	"time"
)

type DocType string

const (
	DocTypeQuote   DocType = "quote"
	DocTypeInvoice DocType = "invoice"
	DocTypeReceipt DocType = "receipt"
)

var validDocTypes = map[DocType]bool{
	DocTypeQuote:   true,
	DocTypeInvoice: true,
	DocTypeReceipt: true,
}

func IsValidDocType(t DocType) bool {
	return validDocTypes[t]
}

type DocStatus string

const (
	StatusDraft         DocStatus = "draft"
	StatusSent          DocStatus = "sent"
	StatusAccepted      DocStatus = "accepted"
	StatusDeclined      DocStatus = "declined"
	StatusPaid          DocStatus = "paid"
	StatusPartiallyPaid DocStatus = "partially_paid"
	StatusOverdue       DocStatus = "overdue"
)

var validStatuses = map[DocStatus]bool{
	StatusDraft:         true,
	StatusSent:          true,
	StatusAccepted:      true,
	StatusDeclined:      true,
	StatusPaid:          true,
	StatusPartiallyPaid: true,
	StatusOverdue:       true,
}

func IsValidStatus(s DocStatus) bool {
	return validStatuses[s]
}

// Document is a quote, invoice or receipt. The archived flag is a
// timestamp orthogonal to status; accept_token and payment_token are
// capability tokens looked up on their own index, never together with
// an owner check.
type Document struct {
	ID            int64      `json:"id"`
	OwnerID       int64      `json:"owner_id"`
	DocType       DocType    `json:"doc_type"`
	Number        string     `json:"number"`
	Status        DocStatus  `json:"status"`
	ClientName    string     `json:"client_name"`
	ClientEmail   string     `json:"client_email"`
	AcceptToken   *string    `json:"-"`
	PaymentToken  *string    `json:"-"`
	AcceptedBy    *string    `json:"accepted_by,omitempty"`
	AcceptedIP    *string    `json:"accepted_ip,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt    *time.Time `json:"declined_at,omitempty"`
	DeclineReason *string    `json:"decline_reason,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TotalCents    int64      `json:"total_cents"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	LineItems []LineItem `json:"line_items,omitempty"`
}

type LineItem struct {
	ID             int64  `json:"id"`
	DocumentID     int64  `json:"document_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SortOrder      int    `json:"sort_order"`
}

type Signature struct {
	DocumentID int64     `json:"document_id"`
	SignerName string    `json:"signer_name"`
	Signature  string    `json:"signature"`
	SignedAt   time.Time `json:"signed_at"`
}

type PaymentSchedule struct {
	DocumentID      int64      `json:"document_id"`
	Installments    int        `json:"installments"`
	AmountPaidCents int64      `json:"amount_paid_cents"`
	NextDue         *time.Time `json:"next_due,omitempty"`
}

type CreateDocumentRequest struct {
	DocType     DocType           `json:"doc_type"`
	ClientName  string            `json:"client_name"`
	ClientEmail string            `json:"client_email"`
	TaxCents    int64             `json:"tax_cents"`
	Notes       string            `json:"notes,omitempty"`
	LineItems   []LineItemRequest `json:"line_items"`
}

type LineItemRequest struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SortOrder      int    `json:"sort_order"`
}

type UpdateDocumentRequest struct {
	ClientName  *string `json:"client_name,omitempty"`
	ClientEmail *string `json:"client_email,omitempty"`
	TaxCents    *int64  `json:"tax_cents,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type AcceptRequest struct {
	AcceptedBy string `json:"accepted_by"`
	Signature  string `json:"signature,omitempty"`
}

type DeclineRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TokenPatch is the bounded field set reachable through a capability
// token without an owner session.
type TokenPatch struct {
	Status *DocStatus
	PaidAt *time.Time
}

type ListFilter struct {
	DocType         *DocType
	Status          *DocStatus
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Validation methods
func (r *CreateDocumentRequest) Validate() error {
	if !IsValidDocType(r.DocType) {
		return fmt.Errorf("doc_type must be one of quote, invoice, receipt")
	}
	if r.ClientName == "" {
		return fmt.Errorf("client_name is required")
	}
	if r.ClientEmail != "" && !emailRegex.MatchString(r.ClientEmail) {
		return fmt.Errorf("invalid client_email format")
	}
	if r.TaxCents < 0 {
		return fmt.Errorf("tax_cents must not be negative")
	}
	if len(r.LineItems) == 0 {
		return fmt.Errorf("at least one line item is required")
	}
	for i, li := range r.LineItems {
		if err := li.Validate(); err != nil {
			return fmt.Errorf("line item %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *LineItemRequest) Validate() error {
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if r.UnitPriceCents < 0 {
		return fmt.Errorf("unit_price_cents must not be negative")
	}
	if r.SortOrder < 0 {
		return fmt.Errorf("sort_order must not be negative")
	}
	return nil
}

func (r *UpdateDocumentRequest) Validate() error {
	if r.ClientName != nil && *r.ClientName == "" {
		return fmt.Errorf("client_name must not be empty")
	}
	if r.ClientEmail != nil && *r.ClientEmail != "" && !emailRegex.MatchString(*r.ClientEmail) {
		return fmt.Errorf("invalid client_email format")
	}
	if r.TaxCents != nil && *r.TaxCents < 0 {
		return fmt.Errorf("tax_cents must not be negative")
	}
	return nil
}

func (r *AcceptRequest) Validate() error {
	if strings.TrimSpace(r.AcceptedBy) == "" {
		return fmt.Errorf("accepted_by is required")
	}
	return nil
}

// Normalize methods
func (r *CreateDocumentRequest) Normalize() {
	r.ClientName = strings.TrimSpace(r.ClientName)
	r.ClientEmail = NormalizeEmail(r.ClientEmail)
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *AcceptRequest) Normalize() {
	r.AcceptedBy = strings.TrimSpace(r.AcceptedBy)
}

// Subtotal sums the line items; the document total is subtotal + tax.
func Subtotal(items []LineItemRequest) int64 {
	var total int64
	for _, li := range items {
		total += int64(li.Quantity) * li.UnitPriceCents
	}
	return total
}

func (d *Document) IsArchived() bool {
	return d.ArchivedAt != nil
}
