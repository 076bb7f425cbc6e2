package pgstore

// This file centralizes SQL statement strings so call sites don't need to
// format table names inline. The only dynamic part is the schema-qualified
// table name embedded in dbTables.

func (t dbTables) insertInstanceSQL() string {
	return `INSERT INTO ` + t.instances + ` (id, workflow, input, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())`
}

func (t dbTables) getInstanceSQL() string {
	return `
		SELECT id, workflow, input, status, output, fault, created_at, updated_at
		FROM ` + t.instances + `
		WHERE id = $1
	`
}

func (t dbTables) historySQL() string {
	return `
		SELECT seq, activity, input, result, fault, attempts
		FROM ` + t.history + `
		WHERE instance_id = $1
		ORDER BY seq
	`
}

func (t dbTables) insertOutcomeSQL() string {
	return `
		INSERT INTO ` + t.history + ` (instance_id, seq, activity, input, result, fault, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instance_id, seq) DO NOTHING
	`
}

func (t dbTables) claimInstanceSQL() string {
	return `
		UPDATE ` + t.instances + `
		SET status = $3, lease_until = now() + make_interval(secs => $2), updated_at = now()
		WHERE id = $1
			AND (status = $4 OR (status = $3 AND lease_until < now()))
	`
}

func (t dbTables) claimNextInstanceSQL() string {
	return `
		WITH next AS (
			SELECT id
			FROM ` + t.instances + `
			WHERE workflow = ANY($1)
				AND (status = $4 OR (status = $3 AND lease_until < now()))
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE ` + t.instances + ` i
		SET status = $3, lease_until = now() + make_interval(secs => $2), updated_at = now()
		FROM next
		WHERE i.id = next.id
		RETURNING i.id, i.workflow, i.input, i.status, i.output, i.fault, i.created_at, i.updated_at
	`
}

func (t dbTables) heartbeatSQL() string {
	return `UPDATE ` + t.instances + `
		SET lease_until = now() + make_interval(secs => $2), updated_at = now()
		WHERE id = $1 AND status = $3`
}

func (t dbTables) completeInstanceSQL() string {
	return `UPDATE ` + t.instances + `
		SET status = $3, output = $2, fault = NULL, lease_until = NULL, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)`
}

func (t dbTables) failInstanceSQL() string {
	return `UPDATE ` + t.instances + `
		SET status = $3, fault = $2, lease_until = NULL, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)`
}

func (t dbTables) cancelScheduledSQL() string {
	return `UPDATE ` + t.instances + `
		SET status = $3, fault = $2, updated_at = now()
		WHERE id = $1 AND status = $4`
}

func (t dbTables) instanceExistsSQL() string {
	return `SELECT 1 FROM ` + t.instances + ` WHERE id = $1`
}

func (t dbTables) getUserSQL() string {
	return `SELECT id, email, name, created_at FROM ` + t.users + ` WHERE id = $1`
}

func (t dbTables) upsertUserSQL() string {
	return `
		INSERT INTO ` + t.users + ` (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
			name = EXCLUDED.name
	`
}

func (t dbTables) listInvoicesByOwnerYearSQL() string {
	return `
		SELECT id, owner_id, number, issue_date
		FROM ` + t.invoices + `
		WHERE owner_id = $1
			AND issue_date >= $2
			AND issue_date < $3
		ORDER BY issue_date, number
	`
}

func (t dbTables) getInvoiceSQL() string {
	return `SELECT id, owner_id, number, issue_date FROM ` + t.invoices + ` WHERE id = $1`
}

func (t dbTables) insertInvoiceSQL() string {
	return `INSERT INTO ` + t.invoices + ` (id, owner_id, number, issue_date)
		VALUES ($1, $2, $3, $4)`
}

func (t dbTables) listItemsSQL() string {
	return `
		SELECT id, description, quantity::text, unit_price::text, vat_rate::text, retention_rate::text
		FROM ` + t.items + `
		WHERE invoice_id = $1
		ORDER BY position
	`
}

func (t dbTables) listItemsForInvoicesSQL() string {
	return `
		SELECT invoice_id, id, description, quantity::text, unit_price::text, vat_rate::text, retention_rate::text
		FROM ` + t.items + `
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`
}

func (t dbTables) deleteItemsSQL() string {
	return `DELETE FROM ` + t.items + ` WHERE invoice_id = $1`
}

func (t dbTables) insertItemSQL() string {
	return `
		INSERT INTO ` + t.items + ` (id, invoice_id, position, description, quantity, unit_price, vat_rate, retention_rate)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric)
	`
}

func (t dbTables) insertDocumentSQL() string {
	return `
		INSERT INTO ` + t.documents + ` (id, owner_id, title, year, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
}

func (t dbTables) getDocumentSQL() string {
	return `
		SELECT id, owner_id, title, year, status, content, blob_url, degraded, created_at, updated_at
		FROM ` + t.documents + `
		WHERE id = $1
	`
}

func (t dbTables) updateDocumentContentSQL() string {
	return `UPDATE ` + t.documents + `
		SET content = $2, blob_url = $3, degraded = $4, status = $5, updated_at = now()
		WHERE id = $1`
}

func (t dbTables) setDocumentStatusSQL() string {
	return `UPDATE ` + t.documents + `
		SET status = $2, updated_at = now()
		WHERE id = $1`
}
