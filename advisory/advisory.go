// Package advisory is the fiscal guidance core: it assembles durable
// workflows that aggregate a user's invoices, generate an advisory document
// from the totals, and notify the user, on top of the saga engine and the
// cache consistency layer.
package advisory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by the entity stores when a record does not exist.
// Activities translate it into a not-found fault; it never escapes as-is.
var ErrNotFound = errors.New("advisory: not found")

// User is a registered platform user.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentStatus is the lifecycle state of an advisory document.
type DocumentStatus string

const (
	// DocumentPending is the status at creation, before content is stored.
	DocumentPending DocumentStatus = "pending"

	// DocumentReady means the content was generated and persisted.
	DocumentReady DocumentStatus = "ready"

	// DocumentFailed means generation or storage failed after the record was
	// created. Set by compensation so no document is left looking pending
	// forever.
	DocumentFailed DocumentStatus = "failed"
)

// Document is an advisory document produced for one user and fiscal year.
type Document struct {
	ID      uuid.UUID      `json:"id"`
	OwnerID uuid.UUID      `json:"ownerId"`
	Title   string         `json:"title"`
	Year    int            `json:"year"`
	Status  DocumentStatus `json:"status"`
	Content string         `json:"content,omitempty"`
	BlobURL string         `json:"blobUrl,omitempty"`

	// Degraded marks content produced from the deterministic fallback after
	// the completion service was unavailable.
	Degraded bool `json:"degraded"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
