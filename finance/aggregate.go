package finance

import "github.com/shopspring/decimal"

// PeriodTotals are the aggregates for one period. Derived, never persisted:
// recomputed on demand from invoice records.
type PeriodTotals struct {
	IncomeBase        decimal.Decimal `json:"incomeBase"`
	VATCharged        decimal.Decimal `json:"vatCharged"`
	RetentionWithheld decimal.Decimal `json:"retentionWithheld"`
	InvoiceCount      int             `json:"invoiceCount"`
}

// IncomeWithVAT returns incomeBase + vatCharged.
func (p PeriodTotals) IncomeWithVAT() decimal.Decimal {
	return p.IncomeBase.Add(p.VATCharged)
}

func (p PeriodTotals) add(o PeriodTotals) PeriodTotals {
	return PeriodTotals{
		IncomeBase:        p.IncomeBase.Add(o.IncomeBase),
		VATCharged:        p.VATCharged.Add(o.VATCharged),
		RetentionWithheld: p.RetentionWithheld.Add(o.RetentionWithheld),
		InvoiceCount:      p.InvoiceCount + o.InvoiceCount,
	}
}

// QuarterSummary are the totals of one calendar quarter.
type QuarterSummary struct {
	Year    int     `json:"year"`
	Quarter Quarter `json:"quarter"`
	PeriodTotals
}

// YearSummary are the totals of a calendar year with the per-quarter
// breakdown retained for display.
type YearSummary struct {
	Year     int               `json:"year"`
	Quarters [4]QuarterSummary `json:"quarters"`
	PeriodTotals

	// ThirdPartyDeclarationRequired is set when the yearly income base is
	// strictly greater than ThirdPartyDeclarationThreshold.
	ThirdPartyDeclarationRequired bool `json:"thirdPartyDeclarationRequired"`
}

// AggregateQuarter sums all items of all invoices whose issue date falls in
// the quarter. Rates are applied per item before any rounding for display.
func AggregateQuarter(invoices []Invoice, year int, q Quarter) QuarterSummary {
	s := QuarterSummary{Year: year, Quarter: q}
	for _, inv := range invoices {
		if !q.Contains(year, inv.IssueDate) {
			continue
		}
		s.InvoiceCount++
		for _, it := range inv.Items {
			s.IncomeBase = s.IncomeBase.Add(it.Base())
			s.VATCharged = s.VATCharged.Add(it.VATAmount())
			s.RetentionWithheld = s.RetentionWithheld.Add(it.RetentionAmount())
		}
	}
	return s
}

// AggregateYear aggregates the four quarters of year and sums them, so the
// yearly income base equals the sum of the quarterly ones by construction.
func AggregateYear(invoices []Invoice, year int) YearSummary {
	quarters := [4]QuarterSummary{}
	for q := Quarter(1); q <= 4; q++ {
		quarters[q-1] = AggregateQuarter(invoices, year, q)
	}
	return YearFromQuarters(year, quarters)
}

// YearFromQuarters rolls four quarter summaries into a year summary. Used
// directly when the quarters were aggregated elsewhere (e.g. fanned out
// across activities).
func YearFromQuarters(year int, quarters [4]QuarterSummary) YearSummary {
	y := YearSummary{Year: year, Quarters: quarters}
	for _, q := range quarters {
		y.PeriodTotals = y.PeriodTotals.add(q.PeriodTotals)
	}
	y.ThirdPartyDeclarationRequired = y.IncomeBase.GreaterThan(ThirdPartyDeclarationThreshold)
	return y
}
