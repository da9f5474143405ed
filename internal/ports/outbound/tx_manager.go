package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager runs fn in one database transaction, committing only if fn
// returns nil. Repositories share it for writes spanning several tables.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
