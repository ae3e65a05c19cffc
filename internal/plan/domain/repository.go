package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindFirstActiveFree(ctx context.Context, db *gorm.DB) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Plan, error)
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, at time.Time) (bool, error)
}
