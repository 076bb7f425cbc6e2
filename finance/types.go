// Package finance computes deterministic tax aggregates (income base, VAT,
// IRPF retention) for a user over a calendar quarter or year. All arithmetic
// uses fixed-point decimals; binary floating point would drift across
// repeated aggregation.
package finance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceItem is one line of an invoice. Rates are percentages (21 means
// 21%).
type InvoiceItem struct {
	ID            uuid.UUID       `json:"id"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	VATRate       decimal.Decimal `json:"vatRate"`
	RetentionRate decimal.Decimal `json:"retentionRate"`
}

// Base returns quantity × unitPrice.
func (it InvoiceItem) Base() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice)
}

// VATAmount returns base × vatRate/100, applied per item before any
// rounding for display.
func (it InvoiceItem) VATAmount() decimal.Decimal {
	return it.Base().Mul(it.VATRate).Div(hundred)
}

// RetentionAmount returns base × retentionRate/100.
func (it InvoiceItem) RetentionAmount() decimal.Decimal {
	return it.Base().Mul(it.RetentionRate).Div(hundred)
}

// Invoice is a read-only source record for aggregation, keyed into a period
// by its issue date.
type Invoice struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"ownerId"`
	Number    string        `json:"number"`
	IssueDate time.Time     `json:"issueDate"`
	Items     []InvoiceItem `json:"items"`
}

// Quarter is a calendar quarter, 1 through 4.
type Quarter int

// QuarterOf returns the calendar quarter containing t.
func QuarterOf(t time.Time) Quarter {
	return Quarter((int(t.Month())-1)/3 + 1)
}

// Valid reports whether q is in 1..4.
func (q Quarter) Valid() bool { return q >= 1 && q <= 4 }

func (q Quarter) String() string { return fmt.Sprintf("Q%d", int(q)) }

// Bounds returns the inclusive first day and exclusive first-day-after of
// the quarter in year, in UTC: Q1 Jan1–Mar31, Q2 Apr1–Jun30, Q3 Jul1–Sep30,
// Q4 Oct1–Dec31.
func (q Quarter) Bounds(year int) (start, end time.Time) {
	startMonth := time.Month((int(q)-1)*3 + 1)
	start = time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 3, 0)
	return start, end
}

// Contains reports whether the issue date falls inside the quarter of year.
func (q Quarter) Contains(year int, issue time.Time) bool {
	start, end := q.Bounds(year)
	issue = issue.UTC()
	return !issue.Before(start) && issue.Before(end)
}

var hundred = decimal.NewFromInt(100)

// ThirdPartyDeclarationThreshold is the yearly income base above which the
// third-party operations declaration (modelo 347 regime) becomes mandatory.
// The flag is set only strictly above the threshold.
var ThirdPartyDeclarationThreshold = decimal.RequireFromString("3005.06")
