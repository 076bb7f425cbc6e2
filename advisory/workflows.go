package advisory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/finance"
	"github.com/raultorres2603/legal-ia-sub000/saga"
)

// GuidanceInput starts a fiscal-guidance instance.
type GuidanceInput struct {
	OwnerID uuid.UUID `json:"ownerId"`
	Year    int       `json:"year"`
}

// GuidanceOutput is the terminal result of a fiscal-guidance instance.
type GuidanceOutput struct {
	DocumentID uuid.UUID           `json:"documentId"`
	Year       int                 `json:"year"`
	Summary    finance.YearSummary `json:"summary"`
	Degraded   bool                `json:"degraded"`
	Notified   bool                `json:"notified"`
}

// ReindexInput starts an invoice-reindex instance.
type ReindexInput struct {
	OwnerID   uuid.UUID             `json:"ownerId"`
	InvoiceID uuid.UUID             `json:"invoiceId"`
	Year      int                   `json:"year"`
	Items     []finance.InvoiceItem `json:"items"`
}

// ReindexOutput is the terminal result of an invoice-reindex instance.
type ReindexOutput struct {
	ItemCount    int `json:"itemCount"`
	InvoiceCount int `json:"invoiceCount"`
}

// fiscalGuidanceWorkflow loads the year's invoices, fans the four quarters
// out, rolls them into a year summary, and produces the advisory document.
//
// When the completion service is down the document is still produced from
// the deterministic fallback text and marked degraded. When content storage
// fails, the pending document record is compensated to failed and the fault
// is surfaced.
func (s *Service) fiscalGuidanceWorkflow() *saga.Workflow[GuidanceInput, GuidanceOutput] {
	return saga.NewWorkflow("fiscal-guidance",
		func(c *saga.Context, in *GuidanceInput) (*GuidanceOutput, error) {
			loaded, err := saga.Call(c, s.loadInvoices, &loadInvoicesIn{OwnerID: in.OwnerID, Year: in.Year})
			if err != nil {
				return nil, err
			}

			futures := make([]*saga.Future[finance.QuarterSummary], 4)
			for q := 0; q < 4; q++ {
				futures[q] = saga.Schedule(c, s.quarterSummary, &quarterSummaryIn{
					Invoices: loaded.Invoices,
					Year:     in.Year,
					Quarter:  finance.Quarter(q + 1),
				})
			}
			outs, errs := saga.Gather(futures)

			var quarters [4]finance.QuarterSummary
			for i := range outs {
				if errs[i] != nil {
					return nil, errs[i]
				}
				quarters[i] = *outs[i]
			}
			summary := finance.YearFromQuarters(in.Year, quarters)

			doc, err := saga.Call(c, s.createDocument, &createDocumentIn{
				OwnerID: in.OwnerID,
				Year:    in.Year,
				Title:   fmt.Sprintf("Fiscal guidance %d", in.Year),
			})
			if err != nil {
				return nil, err
			}

			var content string
			degraded := false
			gen, err := saga.Call(c, s.generateGuidance, &generateGuidanceIn{
				OwnerID: in.OwnerID,
				Year:    in.Year,
				Summary: summary,
			})
			switch {
			case err == nil:
				content = gen.Guidance
			case saga.IsFaultKind(err, saga.FaultExternalService):
				content = fallbackGuidance(in.Year, summary)
				degraded = true
			default:
				return nil, err
			}

			_, err = saga.Call(c, s.storeContent, &storeContentIn{
				DocumentID: doc.DocumentID,
				OwnerID:    in.OwnerID,
				Content:    content,
				Degraded:   degraded,
			})
			if err != nil {
				// Compensate: the record exists but has no content; mark it
				// failed before surfacing the original fault.
				if _, serr := saga.Call(c, s.setStatus, &setStatusIn{
					DocumentID: doc.DocumentID,
					OwnerID:    in.OwnerID,
					Status:     DocumentFailed,
				}); serr != nil {
					return nil, serr
				}
				return nil, err
			}

			notified := true
			if _, err := saga.Call(c, s.notifyUser, &notifyUserIn{
				UserID:     in.OwnerID,
				DocumentID: doc.DocumentID,
				Year:       in.Year,
			}); err != nil {
				// The document exists either way; delivery is best effort.
				if !saga.IsFaultKind(err, saga.FaultNotFound) && !saga.IsFaultKind(err, saga.FaultExternalService) {
					return nil, err
				}
				notified = false
			}

			return &GuidanceOutput{
				DocumentID: doc.DocumentID,
				Year:       in.Year,
				Summary:    summary,
				Degraded:   degraded,
				Notified:   notified,
			}, nil
		})
}

// invoiceReindexWorkflow replaces an invoice's items and re-reads the
// owner's invoices for the year. The mutation invalidates the owner's cached
// collection views, so the re-read observes the new items.
func (s *Service) invoiceReindexWorkflow() *saga.Workflow[ReindexInput, ReindexOutput] {
	return saga.NewWorkflow("invoice-reindex",
		func(c *saga.Context, in *ReindexInput) (*ReindexOutput, error) {
			upd, err := saga.Call(c, s.updateItems, &updateItemsIn{
				OwnerID:   in.OwnerID,
				InvoiceID: in.InvoiceID,
				Items:     in.Items,
			})
			if err != nil {
				return nil, err
			}
			loaded, err := saga.Call(c, s.loadInvoices, &loadInvoicesIn{OwnerID: in.OwnerID, Year: in.Year})
			if err != nil {
				return nil, err
			}
			return &ReindexOutput{ItemCount: upd.ItemCount, InvoiceCount: len(loaded.Invoices)}, nil
		})
}

// fallbackGuidance renders deterministic advisory text from the aggregates.
// A pure function of the summary, so replay always reproduces it.
func fallbackGuidance(year int, s finance.YearSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Fiscal summary %d\n\n", year)
	fmt.Fprintf(&b, "Income base: %s\n", s.IncomeBase.StringFixed(2))
	fmt.Fprintf(&b, "VAT charged: %s\n", s.VATCharged.StringFixed(2))
	fmt.Fprintf(&b, "Retention withheld: %s\n", s.RetentionWithheld.StringFixed(2))
	fmt.Fprintf(&b, "Invoices: %d\n\n", s.InvoiceCount)
	for _, q := range s.Quarters {
		fmt.Fprintf(&b, "%s: base %s, VAT %s, retention %s (%d invoices)\n",
			q.Quarter, q.IncomeBase.StringFixed(2), q.VATCharged.StringFixed(2),
			q.RetentionWithheld.StringFixed(2), q.InvoiceCount)
	}
	if s.ThirdPartyDeclarationRequired {
		b.WriteString("\nYour yearly income base exceeds the third-party declaration threshold; the declaration is mandatory.\n")
	}
	return b.String()
}
