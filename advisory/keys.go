package advisory

import (
	"strconv"

	"github.com/google/uuid"
)

// Cache keys are owner scoped: every collection view of an owner lives under
// one prefix, so a single prefix invalidation covers all derived views when
// any member entity changes.

func invoicesPrefix(owner uuid.UUID) string {
	return "invoices:" + owner.String() + ":"
}

func invoiceYearKey(owner uuid.UUID, year int) string {
	return invoicesPrefix(owner) + "year:" + strconv.Itoa(year)
}

func invoiceKey(owner, invoiceID uuid.UUID) string {
	return invoicesPrefix(owner) + "id:" + invoiceID.String()
}

func documentsPrefix(owner uuid.UUID) string {
	return "documents:" + owner.String() + ":"
}

func documentKey(owner, docID uuid.UUID) string {
	return documentsPrefix(owner) + "id:" + docID.String()
}
