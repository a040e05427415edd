package repository

import (
	"context"

	"market-forecast/pkg/utils"

	"gorm.io/gorm"
)

// UnitOfWork groups multi-table writes so they commit or roll back together.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(opts ...utils.DBOption) error) error
}

type unitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) UnitOfWork {
	return &unitOfWork{
		db: db,
	}
}

// Run executes fn inside a transaction. Repository calls made with the options fn
// receives join the transaction; a returned error or panic rolls it back.
func (u *unitOfWork) Run(ctx context.Context, fn func(opts ...utils.DBOption) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(utils.WithTx(tx))
	})
}
