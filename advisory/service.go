package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/cache"
	"github.com/raultorres2603/legal-ia-sub000/finance"
	"github.com/raultorres2603/legal-ia-sub000/saga"
)

// Service owns the advisory workflow and activity definitions and the
// token-validated entry points. Construct once, register on a registry, then
// hand the registry to the engine.
type Service struct {
	deps   Deps
	cfg    Config
	cache  *cache.Consistent
	logger *slog.Logger

	loadInvoices     *saga.Activity[loadInvoicesIn, loadInvoicesOut]
	quarterSummary   *saga.Activity[quarterSummaryIn, finance.QuarterSummary]
	createDocument   *saga.Activity[createDocumentIn, createDocumentOut]
	generateGuidance *saga.Activity[generateGuidanceIn, generateGuidanceOut]
	storeContent     *saga.Activity[storeContentIn, storeContentOut]
	setStatus        *saga.Activity[setStatusIn, setStatusOut]
	notifyUser       *saga.Activity[notifyUserIn, notifyUserOut]
	updateItems      *saga.Activity[updateItemsIn, updateItemsOut]

	fiscalGuidance *saga.Workflow[GuidanceInput, GuidanceOutput]
	invoiceReindex *saga.Workflow[ReindexInput, ReindexOutput]
}

// NewService wires the advisory service. Panics on missing collaborators:
// wiring happens at startup and a half-wired service is not recoverable.
func NewService(deps Deps, cfg Config) *Service {
	switch {
	case deps.Invoices == nil:
		panic("advisory: InvoiceStore is required")
	case deps.Documents == nil:
		panic("advisory: DocumentStore is required")
	case deps.Users == nil:
		panic("advisory: UserStore is required")
	case deps.Cache == nil:
		panic("advisory: cache is required")
	case deps.Completer == nil:
		panic("advisory: Completer is required")
	case deps.Blobs == nil:
		panic("advisory: BlobStore is required")
	case deps.Tokens == nil:
		panic("advisory: TokenValidator is required")
	case deps.Notifier == nil:
		panic("advisory: Notifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Service{deps: deps, cfg: cfg.withDefaults(), cache: deps.Cache, logger: deps.Logger}
	s.loadInvoices = s.loadInvoicesActivity()
	s.quarterSummary = s.quarterSummaryActivity()
	s.createDocument = s.createDocumentActivity()
	s.generateGuidance = s.generateGuidanceActivity()
	s.storeContent = s.storeContentActivity()
	s.setStatus = s.setStatusActivity()
	s.notifyUser = s.notifyUserActivity()
	s.updateItems = s.updateItemsActivity()
	s.fiscalGuidance = s.fiscalGuidanceWorkflow()
	s.invoiceReindex = s.invoiceReindexWorkflow()
	return s
}

// Register registers all advisory workflows and activities.
func (s *Service) Register(r *saga.Registry) {
	saga.RegisterActivity(r, s.loadInvoices)
	saga.RegisterActivity(r, s.quarterSummary)
	saga.RegisterActivity(r, s.createDocument)
	saga.RegisterActivity(r, s.generateGuidance)
	saga.RegisterActivity(r, s.storeContent)
	saga.RegisterActivity(r, s.setStatus)
	saga.RegisterActivity(r, s.notifyUser)
	saga.RegisterActivity(r, s.updateItems)
	saga.RegisterWorkflow(r, s.fiscalGuidance)
	saga.RegisterWorkflow(r, s.invoiceReindex)
}

// authorize validates the token and returns the claims.
func (s *Service) authorize(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, saga.Authorizationf("token_missing", "access token is required")
	}
	claims, err := s.deps.Tokens.Validate(ctx, token)
	if err != nil {
		return nil, saga.Authorizationf("token_invalid", "validate token: %v", err)
	}
	return claims, nil
}

// StartGuidance validates the token and starts a fiscal-guidance instance
// for the caller's own invoices.
func (s *Service) StartGuidance(ctx context.Context, e *saga.Engine, token string, year int) (uuid.UUID, error) {
	claims, err := s.authorize(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	if year < 2000 || year > 2200 {
		return uuid.Nil, saga.Validationf("year_range", "year out of range: %d", year)
	}
	id, err := saga.Start(ctx, e, s.fiscalGuidance, &GuidanceInput{OwnerID: claims.UserID, Year: year})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("guidance instance started", "instance", id, "owner", claims.UserID, "year", year)
	return id, nil
}

// StartReindex validates the token and starts an invoice-reindex instance.
// Ownership of the invoice itself is checked inside the workflow against the
// authoritative record.
func (s *Service) StartReindex(ctx context.Context, e *saga.Engine, token string, invoiceID uuid.UUID, year int, items []finance.InvoiceItem) (uuid.UUID, error) {
	claims, err := s.authorize(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	if invoiceID == uuid.Nil {
		return uuid.Nil, saga.Validationf("invoice_required", "invoice id is required")
	}
	if len(items) == 0 {
		return uuid.Nil, saga.Validationf("items_required", "at least one item is required")
	}
	id, err := saga.Start(ctx, e, s.invoiceReindex, &ReindexInput{
		OwnerID:   claims.UserID,
		InvoiceID: invoiceID,
		Year:      year,
		Items:     items,
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("reindex instance started", "instance", id, "owner", claims.UserID, "invoice", invoiceID)
	return id, nil
}

// GuidanceResult awaits a fiscal-guidance instance and returns its output.
func (s *Service) GuidanceResult(ctx context.Context, e *saga.Engine, id uuid.UUID) (*GuidanceOutput, error) {
	return saga.Result[GuidanceOutput](ctx, e, id)
}

// GetDocument returns one advisory document through the cache, enforcing
// that the caller owns it.
func (s *Service) GetDocument(ctx context.Context, token string, docID uuid.UUID) (*Document, error) {
	claims, err := s.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := cache.GetOrLoad(ctx, s.cache, documentKey(claims.UserID, docID), s.cfg.DocumentCacheTTL,
		func(ctx context.Context) (*Document, error) {
			return s.deps.Documents.GetDocument(ctx, docID)
		})
	if errors.Is(err, ErrNotFound) {
		return nil, saga.NotFoundf("document_not_found", "document %s does not exist", docID)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.OwnerID != claims.UserID {
		// Report the same code as a missing document so ownership probing
		// cannot distinguish the two.
		return nil, saga.NotFoundf("document_not_found", "document %s does not exist", docID)
	}
	return doc, nil
}

// guidancePrompt renders the user message for the completion service.
func guidancePrompt(year int, s finance.YearSummary) string {
	return fmt.Sprintf(
		"Fiscal year %d. Income base %s, VAT charged %s, retention withheld %s across %d invoices. "+
			"Third-party declaration required: %t. "+
			"Explain the quarterly VAT position and what to set aside for the yearly filing.",
		year, s.IncomeBase.StringFixed(2), s.VATCharged.StringFixed(2),
		s.RetentionWithheld.StringFixed(2), s.InvoiceCount, s.ThirdPartyDeclarationRequired)
}
