package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicore/actiongate/internal/port/outbound"
)

type txKey struct{}

// Begin opens a transaction and returns a context carrying it. Handlers
// that use Conn join the transaction; rolling it back discards every write
// they made.
func (d *DB) Begin(ctx context.Context) (context.Context, outbound.ScopeTx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin scope: %w", err)
	}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// Conn returns the scope's transaction when ctx carries one, otherwise the
// database itself.
func (d *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.db
}

// InScope reports whether ctx carries a persistence scope.
func InScope(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

var _ outbound.PersistenceScope = (*DB)(nil)
