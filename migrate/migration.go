// Package migrate applies versioned schema/document changes to the
// Postgres content index and the CouchDB collections, each through its
// own migrator but sharing one Migration shape and ledger contract.
package migrate

import "context"

// Migration is one schema change, identified by a strictly increasing
// Version unique within its migrator. Up and Down close over whatever
// backend handle they need (a *sql.DB for Postgres, a CouchDB client
// for the document store); Down must undo exactly what Up did. Both
// run inside internal/storeutil.AtomicScope.
type Migration struct {
	Version     int64
	Description string
	Up          func(ctx context.Context) error
	Down        func(ctx context.Context) error
}
