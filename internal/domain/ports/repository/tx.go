package repository

import (
	"context"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and passes the
// backend's handle as tx (pgx.Tx for Postgres, *gorm.DB for SQLite).
//
// Repositories that receive a non-nil tx lock the rows they read
// (SELECT ... FOR UPDATE where the backend supports it) and MUST also
// accept a nil tx for the non-transactional path.
//
// USAGE
// tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
// p, err := payments.FindByID(ctx, tx, id)
// ...
// return err
// })
//
// Returning an error from fn rolls the transaction back.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
