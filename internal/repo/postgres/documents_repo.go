package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/token"
)

// DocumentsRepo owns quotes, invoices and receipts. Owner operations
// always filter by (id, owner_id); token operations look rows up by
// token value alone on a token index that spans all owners.
type DocumentsRepo interface {
	Create(ctx context.Context, ownerID int64, number string, req *domain.CreateDocumentRequest) (*domain.Document, error)
	GetByID(ctx context.Context, id, ownerID int64) (*domain.Document, error)
	List(ctx context.Context, ownerID int64, f domain.ListFilter) ([]domain.Document, error)
	ListNumbers(ctx context.Context, ownerID int64, docType domain.DocType, year int) ([]string, error)
	Update(ctx context.Context, id, ownerID int64, req *domain.UpdateDocumentRequest) (*domain.Document, error)
	SetArchived(ctx context.Context, id, ownerID int64, archived bool) (bool, error)
	SetTokens(ctx context.Context, id, ownerID int64, accept, payment token.Token) (bool, error)
	MarkSent(ctx context.Context, id, ownerID int64) (*domain.Document, error)
	Delete(ctx context.Context, id, ownerID int64) (bool, error)

	GetByToken(ctx context.Context, tok token.Token) (*domain.Document, error)
	AcceptByToken(ctx context.Context, tok token.Token, acceptedBy, sourceIP string) (*domain.Document, error)
	DeclineByToken(ctx context.Context, tok token.Token, reason string) (*domain.Document, error)
	ApplyPaymentByToken(ctx context.Context, tok token.Token, amountCents int64) (*domain.Document, error)
	UpdateByToken(ctx context.Context, tok token.Token, patch domain.TokenPatch) (*domain.Document, error)

	SaveSignature(ctx context.Context, documentID int64, signerName, signature string) error
}

type DocumentsRepoImpl struct{ pool *pgxpool.Pool }

func NewDocumentsRepo(pool *pgxpool.Pool) *DocumentsRepoImpl { return &DocumentsRepoImpl{pool: pool} }

const documentCols = `id, owner_id, doc_type, number, status,
client_name, client_email, accept_token, payment_token,
accepted_by, accepted_ip, accepted_at, declined_at, decline_reason,
archived_at, sent_at, paid_at,
subtotal_cents, tax_cents, total_cents, notes, created_at, updated_at`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.DocType, &d.Number, &d.Status,
		&d.ClientName, &d.ClientEmail, &d.AcceptToken, &d.PaymentToken,
		&d.AcceptedBy, &d.AcceptedIP, &d.AcceptedAt, &d.DeclinedAt, &d.DeclineReason,
		&d.ArchivedAt, &d.SentAt, &d.PaidAt,
		&d.SubtotalCents, &d.TaxCents, &d.TotalCents, &d.Notes, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentsRepoImpl) Create(ctx context.Context, ownerID int64, number string, req *domain.CreateDocumentRequest) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	subtotal := domain.Subtotal(req.LineItems)
	total := subtotal + req.TaxCents

	const q = `
INSERT INTO documents (owner_id, doc_type, number, status, client_name, client_email,
                       subtotal_cents, tax_cents, total_cents, notes)
VALUES ($1,$2,$3,'draft',$4,$5,$6,$7,$8,$9)
RETURNING ` + documentCols

	d, err := scanDocument(tx.QueryRow(ctx, q,
		ownerID, req.DocType, number, req.ClientName, req.ClientEmail,
		subtotal, req.TaxCents, total, req.Notes,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrNumberConflict
		}
		return nil, err
	}

	for _, li := range req.LineItems {
		var item domain.LineItem
		err := tx.QueryRow(ctx, `
INSERT INTO line_items (document_id, description, quantity, unit_price_cents, sort_order)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, document_id, description, quantity, unit_price_cents, sort_order
`, d.ID, li.Description, li.Quantity, li.UnitPriceCents, li.SortOrder).Scan(
			&item.ID, &item.DocumentID, &item.Description, &item.Quantity,
			&item.UnitPriceCents, &item.SortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert line item: %w", err)
		}
		d.LineItems = append(d.LineItems, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentsRepoImpl) GetByID(ctx context.Context, id, ownerID int64) (*domain.Document, error) {
	const q = `SELECT ` + documentCols + ` FROM documents WHERE id=$1 AND owner_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLineItems(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentsRepoImpl) List(ctx context.Context, ownerID int64, f domain.ListFilter) ([]domain.Document, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + documentCols + ` FROM documents WHERE owner_id=$1`
	args := []any{ownerID}
	if !f.IncludeArchived {
		q += ` AND archived_at IS NULL`
	}
	if f.DocType != nil {
		args = append(args, *f.DocType)
		q += fmt.Sprintf(` AND doc_type=$%d`, len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, f.Limit)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *DocumentsRepoImpl) ListNumbers(ctx context.Context, ownerID int64, docType domain.DocType, year int) ([]string, error) {
	const q = `
SELECT number FROM documents
WHERE owner_id=$1 AND doc_type=$2 AND date_part('year', created_at)=$3`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, ownerID, docType, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (r *DocumentsRepoImpl) Update(ctx context.Context, id, ownerID int64, req *domain.UpdateDocumentRequest) (*domain.Document, error) {
	const q = `
UPDATE documents
SET client_name  = COALESCE($3, client_name),
    client_email = COALESCE($4, client_email),
    tax_cents    = COALESCE($5, tax_cents),
    total_cents  = subtotal_cents + COALESCE($5, tax_cents),
    notes        = COALESCE($6, notes),
    updated_at   = now()
WHERE id=$1 AND owner_id=$2
RETURNING ` + documentCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, id, ownerID,
		req.ClientName, req.ClientEmail, req.TaxCents, req.Notes))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentsRepoImpl) SetArchived(ctx context.Context, id, ownerID int64, archived bool) (bool, error) {
	q := `UPDATE documents SET archived_at=now(), updated_at=now() WHERE id=$1 AND owner_id=$2 AND archived_at IS NULL`
	if !archived {
		q = `UPDATE documents SET archived_at=NULL, updated_at=now() WHERE id=$1 AND owner_id=$2 AND archived_at IS NOT NULL`
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id, ownerID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// SetTokens overwrites both capability tokens, which invalidates any
// previously issued ones.
func (r *DocumentsRepoImpl) SetTokens(ctx context.Context, id, ownerID int64, accept, payment token.Token) (bool, error) {
	const q = `UPDATE documents SET accept_token=$3, payment_token=$4, updated_at=now() WHERE id=$1 AND owner_id=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id, ownerID, accept.String(), payment.String())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *DocumentsRepoImpl) MarkSent(ctx context.Context, id, ownerID int64) (*domain.Document, error) {
	const q = `
UPDATE documents
SET status='sent', sent_at=COALESCE(sent_at, now()), updated_at=now()
WHERE id=$1 AND owner_id=$2
RETURNING ` + documentCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the document and every dependent row in one
// transaction, dependents first.
func (r *DocumentsRepoImpl) Delete(ctx context.Context, id, ownerID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var docID int64
	err = tx.QueryRow(ctx, `SELECT id FROM documents WHERE id=$1 AND owner_id=$2`, id, ownerID).Scan(&docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, q := range []string{
		`DELETE FROM line_items WHERE document_id=$1`,
		`DELETE FROM document_signatures WHERE document_id=$1`,
		`DELETE FROM payment_schedules WHERE document_id=$1`,
		`DELETE FROM documents WHERE id=$1`,
	} {
		if _, err := tx.Exec(ctx, q, docID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *DocumentsRepoImpl) GetByToken(ctx context.Context, tok token.Token) (*domain.Document, error) {
	const q = `SELECT ` + documentCols + ` FROM documents WHERE accept_token=$1 OR payment_token=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, tok.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLineItems(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// AcceptByToken records an acceptance. Repeat accepts overwrite the
// prior timestamp and acceptor; last writer wins.
func (r *DocumentsRepoImpl) AcceptByToken(ctx context.Context, tok token.Token, acceptedBy, sourceIP string) (*domain.Document, error) {
	const q = `
UPDATE documents
SET status='accepted', accepted_by=$2, accepted_ip=$3, accepted_at=now(),
    declined_at=NULL, decline_reason=NULL, updated_at=now()
WHERE accept_token=$1
RETURNING ` + documentCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, tok.String(), acceptedBy, sourceIP))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentsRepoImpl) DeclineByToken(ctx context.Context, tok token.Token, reason string) (*domain.Document, error) {
	const q = `
UPDATE documents
SET status='declined', declined_at=now(), decline_reason=NULLIF($2,''),
    accepted_by=NULL, accepted_ip=NULL, accepted_at=NULL, updated_at=now()
WHERE accept_token=$1
RETURNING ` + documentCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, tok.String(), reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ApplyPaymentByToken credits a payment against the invoice holding
// the payment token. With an attached schedule a partial amount moves
// the invoice to partially_paid; covering the total settles it.
func (r *DocumentsRepoImpl) ApplyPaymentByToken(ctx context.Context, tok token.Token, amountCents int64) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	d, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE payment_token=$1`, tok.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	paid := amountCents
	var hasSchedule bool
	err = tx.QueryRow(ctx, `
UPDATE payment_schedules
SET amount_paid_cents = amount_paid_cents + $2
WHERE document_id=$1
RETURNING amount_paid_cents
`, d.ID, amountCents).Scan(&paid)
	if err == nil {
		hasSchedule = true
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	status := domain.StatusPaid
	if hasSchedule && paid < d.TotalCents {
		status = domain.StatusPartiallyPaid
	}

	d, err = scanDocument(tx.QueryRow(ctx, `
UPDATE documents
SET status=$2, paid_at=CASE WHEN $2='paid' THEN now() ELSE paid_at END, updated_at=now()
WHERE id=$1
RETURNING `+documentCols, d.ID, status))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateByToken patches the bounded field set reachable through a
// capability token, used by downstream payment and acceptance flows.
func (r *DocumentsRepoImpl) UpdateByToken(ctx context.Context, tok token.Token, patch domain.TokenPatch) (*domain.Document, error) {
	const q = `
UPDATE documents
SET status     = COALESCE($2, status),
    paid_at    = COALESCE($3, paid_at),
    updated_at = now()
WHERE accept_token=$1 OR payment_token=$1
RETURNING ` + documentCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	d, err := scanDocument(r.pool.QueryRow(ctx, q, tok.String(), patch.Status, patch.PaidAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentsRepoImpl) SaveSignature(ctx context.Context, documentID int64, signerName, signature string) error {
	const q = `
INSERT INTO document_signatures (document_id, signer_name, signature, signed_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (document_id)
DO UPDATE SET signer_name=EXCLUDED.signer_name, signature=EXCLUDED.signature, signed_at=now()
`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, documentID, signerName, signature)
	return err
}

func (r *DocumentsRepoImpl) loadLineItems(ctx context.Context, d *domain.Document) error {
	rows, err := r.pool.Query(ctx, `
SELECT id, document_id, description, quantity, unit_price_cents, sort_order
FROM line_items WHERE document_id=$1 ORDER BY sort_order, id
`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ID, &li.DocumentID, &li.Description, &li.Quantity,
			&li.UnitPriceCents, &li.SortOrder); err != nil {
			return err
		}
		d.LineItems = append(d.LineItems, li)
	}
	return rows.Err()
}

var _ DocumentsRepo = (*DocumentsRepoImpl)(nil)
