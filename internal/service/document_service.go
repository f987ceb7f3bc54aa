package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/numbering"
	"github.com/fieldserve/fieldserve-api/internal/platform/mailer"
	"github.com/fieldserve/fieldserve-api/internal/repo/postgres"
	"github.com/fieldserve/fieldserve-api/internal/token"
	"github.com/fieldserve/fieldserve-api/pkg/config"
	"github.com/fieldserve/fieldserve-api/pkg/events"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

type DocumentService interface {
	Create(ctx context.Context, ownerID int64, req *domain.CreateDocumentRequest) (*domain.Document, error)
	Get(ctx context.Context, id, ownerID int64) (*domain.Document, error)
	List(ctx context.Context, ownerID int64, f domain.ListFilter) ([]domain.Document, error)
	Update(ctx context.Context, id, ownerID int64, req *domain.UpdateDocumentRequest) (*domain.Document, error)
	Archive(ctx context.Context, id, ownerID int64) error
	Unarchive(ctx context.Context, id, ownerID int64) error
	Send(ctx context.Context, id, ownerID int64) (*domain.Document, error)
	MintTokens(ctx context.Context, id, ownerID int64) (accept, payment token.Token, err error)
	Delete(ctx context.Context, id, ownerID int64) error

	GetByToken(ctx context.Context, tok token.Token) (*domain.Document, error)
	AcceptByToken(ctx context.Context, tok token.Token, req *domain.AcceptRequest, sourceIP string) (*domain.Document, error)
	DeclineByToken(ctx context.Context, tok token.Token, req *domain.DeclineRequest) (*domain.Document, error)
	MarkPaidByToken(ctx context.Context, tok token.Token, amountCents int64) (*domain.Document, error)
	UpdateByToken(ctx context.Context, tok token.Token, patch domain.TokenPatch) (*domain.Document, error)

	UpdatePrefixes(ctx context.Context, ownerID int64, quote, invoice, receipt string) error
	BackfillCounters(ctx context.Context, ownerID int64, docType domain.DocType, year int) error
}

type documentService struct {
	documents postgres.DocumentsRepo
	settings  postgres.SettingsRepo
	numbers   *numbering.Generator
	mailer    mailer.Service
	eventBus  events.Publisher
	config    *config.Config
}

func NewDocumentService(
	documents postgres.DocumentsRepo,
	settings postgres.SettingsRepo,
	numbers *numbering.Generator,
	mailer mailer.Service,
	eventBus events.Publisher,
	config *config.Config,
) DocumentService {
	return &documentService{
		documents: documents,
		settings:  settings,
		numbers:   numbers,
		mailer:    mailer,
		eventBus:  eventBus,
		config:    config,
	}
}

// Create mints the document number and persists the document with its
// line items. A number conflict is the storage backstop firing; the
// whole creation is retried with a freshly generated number.
func (s *documentService) Create(ctx context.Context, ownerID int64, req *domain.CreateDocumentRequest) (*domain.Document, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var doc *domain.Document
	backoff := retry.WithMaxRetries(2, retry.NewConstant(25*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		number, err := s.numbers.Generate(ctx, ownerID, req.DocType)
		if err != nil {
			return fmt.Errorf("failed to generate number: %w", err)
		}
		doc, err = s.documents.Create(ctx, ownerID, number, req)
		if errors.Is(err, domain.ErrNumberConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.eventBus.Publish(ctx, events.DocumentCreated, events.DocumentCreatedEvent{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		DocType:    string(doc.DocType),
		Number:     doc.Number,
		CreatedAt:  doc.CreatedAt,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish document event", "error", err)
	}

	return doc, nil
}

func (s *documentService) Get(ctx context.Context, id, ownerID int64) (*domain.Document, error) {
	doc, err := s.documents.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *documentService) List(ctx context.Context, ownerID int64, f domain.ListFilter) ([]domain.Document, error) {
	docs, err := s.documents.List(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (s *documentService) Update(ctx context.Context, id, ownerID int64, req *domain.UpdateDocumentRequest) (*domain.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	doc, err := s.documents.Update(ctx, id, ownerID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *documentService) Archive(ctx context.Context, id, ownerID int64) error {
	return s.setArchived(ctx, id, ownerID, true)
}

func (s *documentService) Unarchive(ctx context.Context, id, ownerID int64) error {
	return s.setArchived(ctx, id, ownerID, false)
}

func (s *documentService) setArchived(ctx context.Context, id, ownerID int64, archived bool) error {
	ok, err := s.documents.SetArchived(ctx, id, ownerID, archived)
	if err != nil {
		return fmt.Errorf("failed to update archive flag: %w", err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	if archived {
		if err := s.eventBus.Publish(ctx, events.DocumentArchived, map[string]int64{
			"document_id": id, "owner_id": ownerID,
		}); err != nil {
			logger.WarnContext(ctx, "Failed to publish archive event", "error", err)
		}
	}
	return nil
}

// Send marks the document sent and emails the client its public link.
// Tokens are minted on first send and kept on re-send so links already
// delivered stay valid; MintTokens rotates them explicitly.
func (s *documentService) Send(ctx context.Context, id, ownerID int64) (*domain.Document, error) {
	doc, err := s.documents.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	acceptTok := doc.AcceptToken
	if acceptTok == nil || *acceptTok == "" {
		accept, _, err := s.MintTokens(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}
		v := accept.String()
		acceptTok = &v
	}

	doc, err = s.documents.MarkSent(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark document sent: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	if doc.ClientEmail != "" {
		link := fmt.Sprintf("%s/d/%s", s.config.Public.BaseURL, *acceptTok)
		if err := s.mailer.SendDocumentLink(doc.ClientEmail, doc.ClientName, doc.Number, link); err != nil {
			logger.ErrorContext(ctx, "Failed to send document email", "error", err, "document_id", doc.ID)
		}
	}

	if err := s.eventBus.Publish(ctx, events.DocumentSent, events.DocumentSentEvent{
		DocumentID:  doc.ID,
		OwnerID:     doc.OwnerID,
		Number:      doc.Number,
		ClientEmail: doc.ClientEmail,
		SentAt:      time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish sent event", "error", err)
	}

	return doc, nil
}

// MintTokens generates fresh capability tokens for the document,
// invalidating any previously issued ones.
func (s *documentService) MintTokens(ctx context.Context, id, ownerID int64) (token.Token, token.Token, error) {
	accept, err := token.New()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate accept token: %w", err)
	}
	payment, err := token.New()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate payment token: %w", err)
	}

	ok, err := s.documents.SetTokens(ctx, id, ownerID, accept, payment)
	if err != nil {
		return "", "", fmt.Errorf("failed to store tokens: %w", err)
	}
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return accept, payment, nil
}

func (s *documentService) Delete(ctx context.Context, id, ownerID int64) error {
	ok, err := s.documents.Delete(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *documentService) GetByToken(ctx context.Context, tok token.Token) (*domain.Document, error) {
	doc, err := s.documents.GetByToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *documentService) AcceptByToken(ctx context.Context, tok token.Token, req *domain.AcceptRequest, sourceIP string) (*domain.Document, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	doc, err := s.documents.AcceptByToken(ctx, tok, req.AcceptedBy, sourceIP)
	if err != nil {
		return nil, fmt.Errorf("failed to accept document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	if req.Signature != "" {
		if err := s.documents.SaveSignature(ctx, doc.ID, req.AcceptedBy, req.Signature); err != nil {
			logger.ErrorContext(ctx, "Failed to save signature", "error", err, "document_id", doc.ID)
		}
	}

	if err := s.eventBus.Publish(ctx, events.DocumentAccepted, events.DocumentAcceptedEvent{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Number:     doc.Number,
		AcceptedBy: req.AcceptedBy,
		AcceptedAt: time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish accept event", "error", err)
	}

	return doc, nil
}

func (s *documentService) DeclineByToken(ctx context.Context, tok token.Token, req *domain.DeclineRequest) (*domain.Document, error) {
	doc, err := s.documents.DeclineByToken(ctx, tok, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to decline document: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	if err := s.eventBus.Publish(ctx, events.DocumentDeclined, events.DocumentDeclinedEvent{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Number:     doc.Number,
		Reason:     req.Reason,
		DeclinedAt: time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish decline event", "error", err)
	}

	return doc, nil
}

func (s *documentService) MarkPaidByToken(ctx context.Context, tok token.Token, amountCents int64) (*domain.Document, error) {
	doc, err := s.documents.ApplyPaymentByToken(ctx, tok, amountCents)
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	subject := events.InvoicePaid
	if doc.Status == domain.StatusPartiallyPaid {
		subject = events.InvoicePartiallyPaid
	}
	if err := s.eventBus.Publish(ctx, subject, events.InvoicePaidEvent{
		DocumentID:  doc.ID,
		OwnerID:     doc.OwnerID,
		Number:      doc.Number,
		AmountCents: amountCents,
		PaidAt:      time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish payment event", "error", err)
	}

	return doc, nil
}

func (s *documentService) UpdateByToken(ctx context.Context, tok token.Token, patch domain.TokenPatch) (*domain.Document, error) {
	doc, err := s.documents.UpdateByToken(ctx, tok, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update by token: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *documentService) UpdatePrefixes(ctx context.Context, ownerID int64, quote, invoice, receipt string) error {
	for _, p := range []string{quote, invoice, receipt} {
		if p != "" && !numbering.ValidPrefix(p) {
			return fmt.Errorf("validation failed: prefix %q must contain only letters", p)
		}
	}
	if quote == "" {
		quote = numbering.DefaultPrefix(domain.DocTypeQuote)
	}
	if invoice == "" {
		invoice = numbering.DefaultPrefix(domain.DocTypeInvoice)
	}
	if receipt == "" {
		receipt = numbering.DefaultPrefix(domain.DocTypeReceipt)
	}
	return s.settings.UpsertPrefixes(ctx, ownerID, quote, invoice, receipt)
}

// BackfillCounters raises the counter for a scope to the highest
// ordinal among numbers issued before the atomic counter existed.
func (s *documentService) BackfillCounters(ctx context.Context, ownerID int64, docType domain.DocType, year int) error {
	numbers, err := s.documents.ListNumbers(ctx, ownerID, docType, year)
	if err != nil {
		return fmt.Errorf("failed to list numbers: %w", err)
	}
	return s.numbers.SeedFromNumbers(ctx, ownerID, docType, year, numbers)
}
