// Package crud runs create, retrieve, update and delete operations against
// registered tables inside a request-scoped transaction, and expands foreign
// keys into nested documents for the verbose output variant.
package crud

import (
	"context"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
)

// Tx is the request-scoped transaction every operation runs in. Both pgx.Tx
// and *pgx.Session satisfy it. Mutating operations commit it; read
// operations leave it to the caller.
type Tx interface {
	pg.Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
