package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const planColumns = `id, code, name, type, price, currency, site_limit, ai_call_limit, is_active, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Type,
		plan.Price,
		plan.Currency,
		plan.SiteLimit,
		plan.AICallLimit,
		plan.IsActive,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var p domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var p domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE code = ?`,
		code,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindFirstActiveFree(ctx context.Context, db *gorm.DB) (*domain.Plan, error) {
	var p domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+`
		 FROM plans
		 WHERE type = ? AND is_active = ?
		 ORDER BY id ASC
		 LIMIT 1`,
		domain.PlanTypeFree,
		true,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Plan, error) {
	var items []domain.Plan
	stmt := db.WithContext(ctx).Model(&domain.Plan{})
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if err := stmt.Order("price ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans SET is_active = ?, updated_at = ? WHERE id = ?`,
		active,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
