// Package pgstore is the Postgres persistence layer: the saga instance
// store and the entity stores (users, invoices, documents) used by the
// advisory service.
package pgstore

import (
	"unicode"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is the schema used by this package when none is configured.
//
// With unprefixed table names (instances, history, users, invoices,
// invoice_items, documents), using a dedicated schema avoids collisions with
// application tables.
const DefaultSchema = "advisory"

// Config configures where this package stores its tables.
type Config struct {
	// Schema is the Postgres schema containing the tables. If empty,
	// DefaultSchema is used.
	Schema string
}

func (c Config) schema() string {
	if c.Schema == "" {
		return DefaultSchema
	}
	// Keep identifiers conservative to avoid SQL injection. If invalid, fall back.
	for i, r := range c.Schema {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return DefaultSchema
		}
		if i == 0 && unicode.IsDigit(r) {
			return DefaultSchema
		}
	}
	return c.Schema
}

type dbTables struct {
	instances string
	history   string
	users     string
	invoices  string
	items     string
	documents string
}

func newDBTables(cfg Config) dbTables {
	schema := cfg.schema()
	return dbTables{
		instances: pgx.Identifier{schema, "instances"}.Sanitize(),
		history:   pgx.Identifier{schema, "history"}.Sanitize(),
		users:     pgx.Identifier{schema, "users"}.Sanitize(),
		invoices:  pgx.Identifier{schema, "invoices"}.Sanitize(),
		items:     pgx.Identifier{schema, "invoice_items"}.Sanitize(),
		documents: pgx.Identifier{schema, "documents"}.Sanitize(),
	}
}
