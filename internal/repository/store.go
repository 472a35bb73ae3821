package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxFunc runs fn inside one transaction with a Store bound to it. A non-nil
// error from fn rolls everything back.
type TxFunc func(ctx context.Context, fn func(tx Store) error) error

// Store bundles the repositories a reconciliation cycle works with.
type Store struct {
	Receivings ReceivingRepository
	Plans      PlanRepository
	Tx         TxFunc
}

// NewStore builds a Store on top of db (a pool or a pinned connection).
func NewStore(db *gorm.DB) Store {
	return Store{
		Receivings: NewReceivingRepository(db),
		Plans:      NewPlanRepository(db),
		Tx: func(ctx context.Context, fn func(tx Store) error) error {
			return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return fn(NewStore(tx))
			})
		},
	}
}

// Transaction runs fn atomically, or calls fn(s) directly when the store has
// no transaction support.
func (s Store) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.Tx == nil {
		return fn(s)
	}
	return s.Tx(ctx, fn)
}

// Scope hands out a Store bound to one database connection for the duration
// of fn and releases it on every exit path.
type Scope interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

type gormScope struct{ db *gorm.DB }

func NewScope(db *gorm.DB) Scope { return &gormScope{db: db} }

func (s *gormScope) Do(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		return fn(ctx, NewStore(conn))
	})
}

// Ping checks the pool, for health checks.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
