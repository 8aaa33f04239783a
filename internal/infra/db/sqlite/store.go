// Package sqlite is an embedded ledger store for single-node deployments and
// local development. It implements the same repository ports as the Postgres
// store on top of gorm.
package sqlite

import (
	"context"
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vpn-subscription-bot/internal/domain"
	"vpn-subscription-bot/internal/domain/ports/repository"
)

// Open opens (or creates) the database file and migrates the schema.
// SQLite allows a single writer, so the pool is capped at one connection;
// transactions are serialized, which gives the same guarded-update
// semantics as row locks.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userRow{},
		&tariffRow{},
		&subscriptionRow{},
		&paymentRow{},
		&referralCreditRow{},
	)
}

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager passes a *gorm.DB bound to the open transaction as tx.
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func conn(ctx context.Context, db *gorm.DB, tx repository.Tx) (*gorm.DB, error) {
	switch v := tx.(type) {
	case *gorm.DB:
		return v.WithContext(ctx), nil
	case nil:
		if db != nil {
			return db.WithContext(ctx), nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrAlreadyExists
	}
	return domain.ErrOperationFailed
}

func mapReadErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
		return err
	}
	return domain.ErrReadDatabaseRow
}
