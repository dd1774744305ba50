package outbound

import "context"

// PersistenceScope opens a unit of work whose writes can be discarded.
// The returned context carries the scope so handlers can join it.
type PersistenceScope interface {
	Begin(ctx context.Context) (context.Context, ScopeTx, error)
}

// ScopeTx ends a unit of work opened by PersistenceScope.
type ScopeTx interface {
	Commit() error
	Rollback() error
}

// NoopScope is a PersistenceScope that protects nothing. It is used when no
// transactional store is configured; every write inside it is real.
type NoopScope struct{}

// Begin returns ctx unchanged.
func (NoopScope) Begin(ctx context.Context) (context.Context, ScopeTx, error) {
	return ctx, noopTx{}, nil
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

var _ PersistenceScope = NoopScope{}
