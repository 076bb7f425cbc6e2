package advisory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/cache"
	"github.com/raultorres2603/legal-ia-sub000/finance"
	"github.com/raultorres2603/legal-ia-sub000/saga"
)

// Activity IO types. All fields are exported for the codec; the types stay
// package private because activities are only reachable through the
// workflows.

type loadInvoicesIn struct {
	OwnerID uuid.UUID `json:"ownerId"`
	Year    int       `json:"year"`
}

type loadInvoicesOut struct {
	Invoices []finance.Invoice `json:"invoices"`
}

type quarterSummaryIn struct {
	Invoices []finance.Invoice `json:"invoices"`
	Year     int               `json:"year"`
	Quarter  finance.Quarter   `json:"quarter"`
}

type createDocumentIn struct {
	OwnerID uuid.UUID `json:"ownerId"`
	Year    int       `json:"year"`
	Title   string    `json:"title"`
}

type createDocumentOut struct {
	DocumentID uuid.UUID `json:"documentId"`
}

type generateGuidanceIn struct {
	OwnerID uuid.UUID           `json:"ownerId"`
	Year    int                 `json:"year"`
	Summary finance.YearSummary `json:"summary"`
}

type generateGuidanceOut struct {
	Guidance string `json:"guidance"`
}

type storeContentIn struct {
	DocumentID uuid.UUID `json:"documentId"`
	OwnerID    uuid.UUID `json:"ownerId"`
	Content    string    `json:"content"`
	Degraded   bool      `json:"degraded"`
}

type storeContentOut struct {
	BlobURL string `json:"blobUrl"`
}

type setStatusIn struct {
	DocumentID uuid.UUID      `json:"documentId"`
	OwnerID    uuid.UUID      `json:"ownerId"`
	Status     DocumentStatus `json:"status"`
}

type setStatusOut struct {
	Status DocumentStatus `json:"status"`
}

type notifyUserIn struct {
	UserID     uuid.UUID `json:"userId"`
	DocumentID uuid.UUID `json:"documentId"`
	Year       int       `json:"year"`
}

type notifyUserOut struct {
	Delivered bool `json:"delivered"`
}

type updateItemsIn struct {
	OwnerID   uuid.UUID             `json:"ownerId"`
	InvoiceID uuid.UUID             `json:"invoiceId"`
	Items     []finance.InvoiceItem `json:"items"`
}

type updateItemsOut struct {
	ItemCount int `json:"itemCount"`
}

// loadInvoicesActivity reads the owner's invoices for a year through the
// cache.
func (s *Service) loadInvoicesActivity() *saga.Activity[loadInvoicesIn, loadInvoicesOut] {
	return saga.NewActivity("load-invoices",
		func(ctx context.Context, _ *saga.ActivityInfo, in *loadInvoicesIn) (*loadInvoicesOut, error) {
			if in.OwnerID == uuid.Nil {
				return nil, saga.Validationf("owner_required", "owner id is required")
			}
			key := invoiceYearKey(in.OwnerID, in.Year)
			invoices, err := cache.GetOrLoad(ctx, s.cache, key, s.cfg.InvoiceCacheTTL,
				func(ctx context.Context) (*[]finance.Invoice, error) {
					list, err := s.deps.Invoices.ListByOwnerYear(ctx, in.OwnerID, in.Year)
					if err != nil {
						return nil, err
					}
					return &list, nil
				})
			if err != nil {
				return nil, saga.Transientf("invoice_load", "list invoices: %v", err)
			}
			return &loadInvoicesOut{Invoices: *invoices}, nil
		}, saga.DefaultRetryPolicy)
}

// quarterSummaryActivity aggregates one quarter. Pure compute over its
// input, so retrying it cannot change the result and NoRetry applies.
func (s *Service) quarterSummaryActivity() *saga.Activity[quarterSummaryIn, finance.QuarterSummary] {
	return saga.NewActivity("quarter-summary",
		func(_ context.Context, _ *saga.ActivityInfo, in *quarterSummaryIn) (*finance.QuarterSummary, error) {
			if !in.Quarter.Valid() {
				return nil, saga.Validationf("quarter_range", "quarter out of range: %d", in.Quarter)
			}
			out := finance.AggregateQuarter(in.Invoices, in.Year, in.Quarter)
			return &out, nil
		}, saga.NoRetry)
}

// createDocumentActivity creates the pending document record. The document
// ID is derived from (instance, seq), so a physical re-execution lands on
// the same record instead of creating a second one.
func (s *Service) createDocumentActivity() *saga.Activity[createDocumentIn, createDocumentOut] {
	return saga.NewActivity("create-document",
		func(ctx context.Context, info *saga.ActivityInfo, in *createDocumentIn) (*createDocumentOut, error) {
			id := info.DedupKey("document")
			doc := &Document{
				ID:      id,
				OwnerID: in.OwnerID,
				Title:   in.Title,
				Year:    in.Year,
				Status:  DocumentPending,
			}
			err := s.cache.Mutate(ctx,
				func(ctx context.Context) error { return s.deps.Documents.CreateDocument(ctx, doc) },
				[]string{documentKey(in.OwnerID, id)},
				[]string{documentsPrefix(in.OwnerID)},
			)
			if err != nil {
				return nil, saga.Transientf("document_create", "create document: %v", err)
			}
			return &createDocumentOut{DocumentID: id}, nil
		}, saga.DefaultRetryPolicy)
}

// generateGuidanceActivity asks the completion service for advisory text.
// Never retried by the engine: the workflow decides whether to degrade.
func (s *Service) generateGuidanceActivity() *saga.Activity[generateGuidanceIn, generateGuidanceOut] {
	return saga.NewActivity("generate-guidance",
		func(ctx context.Context, _ *saga.ActivityInfo, in *generateGuidanceIn) (*generateGuidanceOut, error) {
			req := CompletionRequest{
				Messages: []Message{
					{Role: "system", Content: s.cfg.PromptPreamble},
					{Role: "user", Content: guidancePrompt(in.Year, in.Summary)},
				},
				MaxTokens:   s.cfg.MaxTokens,
				Temperature: s.cfg.Temperature,
			}
			text, err := s.deps.Completer.Complete(ctx, req)
			if err != nil {
				return nil, saga.ExternalServicef("guidance_unavailable", "completion service: %v", err)
			}
			return &generateGuidanceOut{Guidance: text}, nil
		}, saga.NoRetry)
}

// storeContentActivity writes the content blob and marks the document ready.
func (s *Service) storeContentActivity() *saga.Activity[storeContentIn, storeContentOut] {
	return saga.NewActivity("store-document-content",
		func(ctx context.Context, _ *saga.ActivityInfo, in *storeContentIn) (*storeContentOut, error) {
			blobKey := fmt.Sprintf("documents/%s/%s.md", in.OwnerID, in.DocumentID)
			url, err := s.deps.Blobs.Put(ctx, blobKey, []byte(in.Content))
			if err != nil {
				return nil, saga.ExternalServicef("blob_store", "store content blob: %v", err)
			}
			err = s.cache.Mutate(ctx,
				func(ctx context.Context) error {
					return s.deps.Documents.UpdateContent(ctx, in.DocumentID, in.Content, url, in.Degraded)
				},
				[]string{documentKey(in.OwnerID, in.DocumentID)},
				[]string{documentsPrefix(in.OwnerID)},
			)
			if err != nil {
				return nil, saga.Transientf("document_update", "update document content: %v", err)
			}
			return &storeContentOut{BlobURL: url}, nil
		}, saga.DefaultRetryPolicy)
}

// setStatusActivity sets a document status. Used as the compensation step;
// setting the same status twice is a no-op, which is what makes it safe
// under at-least-once delivery.
func (s *Service) setStatusActivity() *saga.Activity[setStatusIn, setStatusOut] {
	return saga.NewActivity("set-document-status",
		func(ctx context.Context, _ *saga.ActivityInfo, in *setStatusIn) (*setStatusOut, error) {
			err := s.cache.Mutate(ctx,
				func(ctx context.Context) error {
					return s.deps.Documents.SetStatus(ctx, in.DocumentID, in.Status)
				},
				[]string{documentKey(in.OwnerID, in.DocumentID)},
				[]string{documentsPrefix(in.OwnerID)},
			)
			if err != nil {
				return nil, saga.Transientf("document_status", "set document status: %v", err)
			}
			return &setStatusOut{Status: in.Status}, nil
		}, saga.DefaultRetryPolicy)
}

// notifyUserActivity tells the user their document is ready.
func (s *Service) notifyUserActivity() *saga.Activity[notifyUserIn, notifyUserOut] {
	return saga.NewActivity("notify-user",
		func(ctx context.Context, _ *saga.ActivityInfo, in *notifyUserIn) (*notifyUserOut, error) {
			user, err := s.deps.Users.GetUser(ctx, in.UserID)
			if errors.Is(err, ErrNotFound) {
				return nil, saga.NotFoundf("user_not_found", "user %s does not exist", in.UserID)
			}
			if err != nil {
				return nil, saga.Transientf("user_load", "load user: %v", err)
			}
			subject := fmt.Sprintf("Your %d fiscal guidance is ready", in.Year)
			body := fmt.Sprintf("Hi %s, your advisory document %s is ready.", user.Name, in.DocumentID)
			if err := s.deps.Notifier.Send(ctx, user.ID, subject, body); err != nil {
				return nil, saga.ExternalServicef("notify_failed", "send notification: %v", err)
			}
			return &notifyUserOut{Delivered: true}, nil
		}, saga.DefaultRetryPolicy)
}

// updateItemsActivity replaces an invoice's item lines and invalidates every
// cached view derived from the owner's invoices in the same step.
func (s *Service) updateItemsActivity() *saga.Activity[updateItemsIn, updateItemsOut] {
	return saga.NewActivity("update-invoice-items",
		func(ctx context.Context, _ *saga.ActivityInfo, in *updateItemsIn) (*updateItemsOut, error) {
			inv, err := s.deps.Invoices.GetInvoice(ctx, in.InvoiceID)
			if errors.Is(err, ErrNotFound) {
				return nil, saga.NotFoundf("invoice_not_found", "invoice %s does not exist", in.InvoiceID)
			}
			if err != nil {
				return nil, saga.Transientf("invoice_load", "load invoice: %v", err)
			}
			if inv.OwnerID != in.OwnerID {
				return nil, saga.Authorizationf("invoice_owner", "invoice %s is not owned by %s", in.InvoiceID, in.OwnerID)
			}
			err = s.cache.Mutate(ctx,
				func(ctx context.Context) error {
					return s.deps.Invoices.UpdateItems(ctx, in.InvoiceID, in.Items)
				},
				[]string{invoiceKey(in.OwnerID, in.InvoiceID)},
				[]string{invoicesPrefix(in.OwnerID)},
			)
			if err != nil {
				return nil, saga.Transientf("invoice_update", "update invoice items: %v", err)
			}
			return &updateItemsOut{ItemCount: len(in.Items)}, nil
		}, saga.DefaultRetryPolicy)
}
