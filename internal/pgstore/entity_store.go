package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/raultorres2603/legal-ia-sub000/advisory"
	"github.com/raultorres2603/legal-ia-sub000/finance"
)

// Compile-time interface checks.
var (
	_ advisory.InvoiceStore  = (*EntityStore)(nil)
	_ advisory.DocumentStore = (*EntityStore)(nil)
	_ advisory.UserStore     = (*EntityStore)(nil)
)

// EntityStore is the authoritative Postgres storage for users, invoices and
// advisory documents. Amounts round-trip through numeric as text so decimals
// never touch binary floating point.
type EntityStore struct {
	pool   *pgxpool.Pool
	tables dbTables
}

// NewEntityStore creates an entity store over an existing pool. The caller
// owns the pool lifecycle.
func NewEntityStore(pool *pgxpool.Pool, cfg Config) *EntityStore {
	return &EntityStore{pool: pool, tables: newDBTables(cfg)}
}

// PutUser inserts or updates a user.
func (s *EntityStore) PutUser(ctx context.Context, u *advisory.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, err := s.pool.Exec(ctx, s.tables.upsertUserSQL(), u.ID, u.Email, u.Name); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *EntityStore) GetUser(ctx context.Context, id uuid.UUID) (*advisory.User, error) {
	var u advisory.User
	err := s.pool.QueryRow(ctx, s.tables.getUserSQL(), id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, advisory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateInvoice inserts the invoice and its items in one transaction.
func (s *EntityStore) CreateInvoice(ctx context.Context, inv *finance.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, s.tables.insertInvoiceSQL(),
		inv.ID, inv.OwnerID, inv.Number, inv.IssueDate.UTC())
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	if err := insertItems(ctx, tx, s.tables, inv.ID, inv.Items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *EntityStore) GetInvoice(ctx context.Context, id uuid.UUID) (*finance.Invoice, error) {
	var inv finance.Invoice
	err := s.pool.QueryRow(ctx, s.tables.getInvoiceSQL(), id).
		Scan(&inv.ID, &inv.OwnerID, &inv.Number, &inv.IssueDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, advisory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	rows, err := s.pool.Query(ctx, s.tables.listItemsSQL(), id)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, item)
	}
	return &inv, rows.Err()
}

func (s *EntityStore) ListByOwnerYear(ctx context.Context, ownerID uuid.UUID, year int) ([]finance.Invoice, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	rows, err := s.pool.Query(ctx, s.tables.listInvoicesByOwnerYearSQL(), ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	invoices := []finance.Invoice{}
	byID := map[uuid.UUID]int{}
	ids := []uuid.UUID{}
	for rows.Next() {
		var inv finance.Invoice
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.Number, &inv.IssueDate); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		byID[inv.ID] = len(invoices)
		ids = append(ids, inv.ID)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	itemRows, err := s.pool.Query(ctx, s.tables.listItemsForInvoicesSQL(), ids)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var invoiceID uuid.UUID
		item, err := scanItemWithInvoice(itemRows, &invoiceID)
		if err != nil {
			return nil, err
		}
		i := byID[invoiceID]
		invoices[i].Items = append(invoices[i].Items, item)
	}
	return invoices, itemRows.Err()
}

// UpdateItems replaces the item lines of an invoice in one transaction, so
// readers never observe a half-replaced line set.
func (s *EntityStore) UpdateItems(ctx context.Context, invoiceID uuid.UUID, items []finance.InvoiceItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, s.tables.deleteItemsSQL(), invoiceID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := insertItems(ctx, tx, s.tables, invoiceID, items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *EntityStore) CreateDocument(ctx context.Context, doc *advisory.Document) error {
	// ON CONFLICT DO NOTHING: creation runs under an at-least-once engine
	// with a deterministic ID, so a duplicate arrival is expected.
	_, err := s.pool.Exec(ctx, s.tables.insertDocumentSQL(),
		doc.ID, doc.OwnerID, doc.Title, doc.Year, string(doc.Status))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *EntityStore) GetDocument(ctx context.Context, id uuid.UUID) (*advisory.Document, error) {
	var (
		doc    advisory.Document
		status string
	)
	err := s.pool.QueryRow(ctx, s.tables.getDocumentSQL(), id).
		Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Year, &status,
			&doc.Content, &doc.BlobURL, &doc.Degraded, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, advisory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc.Status = advisory.DocumentStatus(status)
	return &doc, nil
}

func (s *EntityStore) UpdateContent(ctx context.Context, id uuid.UUID, content, blobURL string, degraded bool) error {
	tag, err := s.pool.Exec(ctx, s.tables.updateDocumentContentSQL(),
		id, content, blobURL, degraded, string(advisory.DocumentReady))
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return advisory.ErrNotFound
	}
	return nil
}

func (s *EntityStore) SetStatus(ctx context.Context, id uuid.UUID, status advisory.DocumentStatus) error {
	tag, err := s.pool.Exec(ctx, s.tables.setDocumentStatusSQL(), id, string(status))
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return advisory.ErrNotFound
	}
	return nil
}

func insertItems(ctx context.Context, tx pgx.Tx, t dbTables, invoiceID uuid.UUID, items []finance.InvoiceItem) error {
	for pos, item := range items {
		id := item.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, t.insertItemSQL(),
			id, invoiceID, pos, item.Description,
			item.Quantity.String(), item.UnitPrice.String(),
			item.VATRate.String(), item.RetentionRate.String())
		if err != nil {
			return fmt.Errorf("insert item %d: %w", pos, err)
		}
	}
	return nil
}

func scanItem(rows pgx.Rows) (finance.InvoiceItem, error) {
	return scanItemWithInvoice(rows, nil)
}

func scanItemWithInvoice(rows pgx.Rows, invoiceID *uuid.UUID) (finance.InvoiceItem, error) {
	var (
		item                                  finance.InvoiceItem
		quantity, unitPrice, vatRate, retRate string
	)
	dest := []any{&item.ID, &item.Description, &quantity, &unitPrice, &vatRate, &retRate}
	if invoiceID != nil {
		dest = append([]any{invoiceID}, dest...)
	}
	if err := rows.Scan(dest...); err != nil {
		return item, fmt.Errorf("scan item: %w", err)
	}
	var err error
	if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return item, fmt.Errorf("parse quantity: %w", err)
	}
	if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return item, fmt.Errorf("parse unit price: %w", err)
	}
	if item.VATRate, err = decimal.NewFromString(vatRate); err != nil {
		return item, fmt.Errorf("parse vat rate: %w", err)
	}
	if item.RetentionRate, err = decimal.NewFromString(retRate); err != nil {
		return item, fmt.Errorf("parse retention rate: %w", err)
	}
	return item, nil
}
