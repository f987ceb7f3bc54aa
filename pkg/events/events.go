package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Auth events
	LoginCodeRequested = "auth.code.requested"
	AccountProvisioned = "auth.account.provisioned"

	// Document events
	DocumentCreated  = "document.created"
	DocumentSent     = "document.sent"
	DocumentAccepted = "document.accepted"
	DocumentDeclined = "document.declined"
	DocumentArchived = "document.archived"

	// Payment events
	InvoicePaid          = "invoice.paid"
	InvoicePartiallyPaid = "invoice.partially_paid"

	// Notification events
	NotifySend = "notify.send"
)

// Event payloads
type LoginCodeRequestedEvent struct {
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
}

type AccountProvisionedEvent struct {
	AccountID int64     `json:"account_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentCreatedEvent struct {
	DocumentID int64     `json:"document_id"`
	OwnerID    int64     `json:"owner_id"`
	DocType    string    `json:"doc_type"`
	Number     string    `json:"number"`
	CreatedAt  time.Time `json:"created_at"`
}

type DocumentSentEvent struct {
	DocumentID  int64     `json:"document_id"`
	OwnerID     int64     `json:"owner_id"`
	Number      string    `json:"number"`
	ClientEmail string    `json:"client_email"`
	SentAt      time.Time `json:"sent_at"`
}

type DocumentAcceptedEvent struct {
	DocumentID int64     `json:"document_id"`
	OwnerID    int64     `json:"owner_id"`
	Number     string    `json:"number"`
	AcceptedBy string    `json:"accepted_by"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type DocumentDeclinedEvent struct {
	DocumentID int64     `json:"document_id"`
	OwnerID    int64     `json:"owner_id"`
	Number     string    `json:"number"`
	Reason     string    `json:"reason,omitempty"`
	DeclinedAt time.Time `json:"declined_at"`
}

type InvoicePaidEvent struct {
	DocumentID  int64     `json:"document_id"`
	OwnerID     int64     `json:"owner_id"`
	Number      string    `json:"number"`
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data"`
}
