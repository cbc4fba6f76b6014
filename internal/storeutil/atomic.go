package storeutil

import (
	"context"
	"fmt"

	"github.com/philocrawl/crawlcore/domain"
)

// Op is one participant's unit of work inside an AtomicScope. Do performs
// the mutation and returns an undo closure that reverts it; undo is only
// ever invoked if a later Op in the same scope fails. CouchDB and Postgres
// both lack a shared cross-database transaction primitive, so the scope is
// a prepare/commit-with-compensation pattern: every Op "commits" its own
// write immediately (CouchDB has no multi-document prepare phase), and a
// failure triggers undo of everything that already committed, in reverse
// order.
type Op struct {
	Name string
	Do   func(ctx context.Context) (undo func(ctx context.Context) error, err error)
}

// AtomicScope runs a sequence of Ops as a single logical unit: on success,
// every Op's Do has run; on any failure, every prior Op's undo is invoked
// in reverse order before a domain.TransactionError is returned. This is
// the multi-collection atomic block used for "update page + delete its
// processing tasks" and for migration steps.
func AtomicScope(ctx context.Context, scopeName string, ops ...Op) error {
	undoStack := make([]func(ctx context.Context) error, 0, len(ops))

	for _, op := range ops {
		undo, err := op.Do(ctx)
		if err != nil {
			compensate(ctx, scopeName, undoStack)
			return domain.NewTransactionError(scopeName, fmt.Errorf("op %q failed: %w", op.Name, err))
		}
		if undo != nil {
			undoStack = append(undoStack, undo)
		}
	}
	return nil
}

func compensate(ctx context.Context, scopeName string, undoStack []func(ctx context.Context) error) {
	for i := len(undoStack) - 1; i >= 0; i-- {
		// Compensation is best-effort: a failure to undo is not escalated
		// further, since the scope is already failing. Callers observe the
		// original error via the TransactionError returned by AtomicScope.
		_ = undoStack[i](ctx)
	}
}
