package pgstore

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaSQL is the default schema (DefaultSchema) required by this package.
//
// Notes:
// - all IDs are stored as Postgres `uuid`; generation is done in Go.
// - saga payloads and faults are stored as jsonb (default codec is JSON).
// - money amounts and rates are stored as numeric, never floats.
var SchemaSQL = SchemaSQLFor(DefaultSchema)

// SchemaSQLFor returns the schema required by this package for a given
// Postgres schema name.
//
// The schema name is validated conservatively and will fall back to
// DefaultSchema if invalid.
func SchemaSQLFor(schema string) string {
	cfg := Config{Schema: schema}
	schema = cfg.schema()
	schemaIdent := pgx.Identifier{schema}.Sanitize()
	t := newDBTables(cfg)

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
	id          uuid PRIMARY KEY,
	workflow    text NOT NULL,
	input       jsonb NOT NULL,
	status      text NOT NULL,
	output      jsonb,
	fault       jsonb,
	lease_until timestamptz,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS instances_runnable_idx
	ON %s (workflow, status, lease_until, created_at);

CREATE TABLE IF NOT EXISTS %s (
	instance_id uuid NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	seq         int NOT NULL,
	activity    text NOT NULL,
	input       jsonb,
	result      jsonb,
	fault       jsonb,
	attempts    int NOT NULL DEFAULT 0,
	created_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (instance_id, seq)
);

CREATE TABLE IF NOT EXISTS %s (
	id         uuid PRIMARY KEY,
	email      text NOT NULL UNIQUE,
	name       text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
	id         uuid PRIMARY KEY,
	owner_id   uuid NOT NULL REFERENCES %s(id),
	number     text NOT NULL,
	issue_date timestamptz NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (owner_id, number)
);

CREATE INDEX IF NOT EXISTS invoices_owner_year_idx
	ON %s (owner_id, issue_date);

CREATE TABLE IF NOT EXISTS %s (
	id             uuid PRIMARY KEY,
	invoice_id     uuid NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	position       int NOT NULL,
	description    text NOT NULL,
	quantity       numeric NOT NULL,
	unit_price     numeric NOT NULL,
	vat_rate       numeric NOT NULL,
	retention_rate numeric NOT NULL,
	UNIQUE (invoice_id, position)
);

CREATE TABLE IF NOT EXISTS %s (
	id         uuid PRIMARY KEY,
	owner_id   uuid NOT NULL REFERENCES %s(id),
	title      text NOT NULL,
	year       int NOT NULL,
	status     text NOT NULL,
	content    text NOT NULL DEFAULT '',
	blob_url   text NOT NULL DEFAULT '',
	degraded   boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS documents_owner_idx
	ON %s (owner_id, year);
`,
		schemaIdent,
		t.instances,
		t.instances,
		t.history,
		t.instances,
		t.users,
		t.invoices,
		t.users,
		t.invoices,
		t.items,
		t.invoices,
		t.documents,
		t.users,
		t.documents,
	)
}
