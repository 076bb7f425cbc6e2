package advisory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/cache"
	"github.com/raultorres2603/legal-ia-sub000/finance"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"` // "system" or "user"
	Content string `json:"content"`
}

// CompletionRequest is the input to the completion service.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completer generates advisory text from a prompt. Implementations call an
// external completion service; failures are expected and the workflow
// degrades to deterministic fallback content.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// BlobStore persists document content and returns a stable URL for it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (url string, err error)
}

// Claims is the validated identity extracted from an access token.
type Claims struct {
	UserID uuid.UUID
	Role   string
}

// TokenValidator checks an access token at the service boundary. Everything
// past the boundary works with the validated owner ID only.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// Notifier delivers a message to a user out of band (mail, push).
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, subject, body string) error
}

// InvoiceStore is the authoritative invoice storage. All queries are owner
// scoped.
type InvoiceStore interface {
	// ListByOwnerYear returns all invoices of the owner issued in year,
	// ordered by issue date.
	ListByOwnerYear(ctx context.Context, ownerID uuid.UUID, year int) ([]finance.Invoice, error)

	// GetInvoice returns one invoice or ErrNotFound.
	GetInvoice(ctx context.Context, id uuid.UUID) (*finance.Invoice, error)

	// UpdateItems replaces the item lines of an invoice.
	UpdateItems(ctx context.Context, invoiceID uuid.UUID, items []finance.InvoiceItem) error
}

// DocumentStore is the authoritative advisory document storage.
type DocumentStore interface {
	// CreateDocument inserts the document, or leaves an existing record with
	// the same ID untouched. Creation runs under an at-least-once engine, so
	// the same deterministic ID may arrive twice.
	CreateDocument(ctx context.Context, doc *Document) error

	// GetDocument returns one document or ErrNotFound.
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)

	// UpdateContent stores content and blob URL and moves the document to
	// ready.
	UpdateContent(ctx context.Context, id uuid.UUID, content, blobURL string, degraded bool) error

	// SetStatus sets the document status. Idempotent.
	SetStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error
}

// UserStore resolves users for notification.
type UserStore interface {
	// GetUser returns one user or ErrNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// Config tunes the advisory service. Treated as immutable after NewService.
type Config struct {
	// PromptPreamble is the system prompt sent ahead of every guidance
	// request.
	PromptPreamble string

	// MaxTokens caps the completion length. Default 1024.
	MaxTokens int

	// Temperature for the completion service. Default 0.2; guidance should
	// be boring.
	Temperature float64

	// InvoiceCacheTTL bounds staleness of cached invoice collections.
	// Default 10 minutes.
	InvoiceCacheTTL time.Duration

	// DocumentCacheTTL bounds staleness of cached documents. Default
	// 30 minutes.
	DocumentCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.PromptPreamble == "" {
		c.PromptPreamble = "You are a Spanish fiscal advisor for freelancers. " +
			"Answer in plain language, cite the figures you are given, and never invent amounts."
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
	if c.InvoiceCacheTTL <= 0 {
		c.InvoiceCacheTTL = 10 * time.Minute
	}
	if c.DocumentCacheTTL <= 0 {
		c.DocumentCacheTTL = 30 * time.Minute
	}
	return c
}

// Deps are the service collaborators. All fields except Logger are required.
type Deps struct {
	Invoices  InvoiceStore
	Documents DocumentStore
	Users     UserStore
	Cache     *cache.Consistent
	Completer Completer
	Blobs     BlobStore
	Tokens    TokenValidator
	Notifier  Notifier
	Logger    *slog.Logger
}
