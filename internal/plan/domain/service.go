package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetAny(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetFreePlan(ctx context.Context) (*Plan, error)
	List(ctx context.Context, req ListRequest) ([]Plan, error)
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	Deactivate(ctx context.Context, id snowflake.ID) (*Plan, error)
}

type ListRequest struct {
	IncludeInactive bool
}

type CreateRequest struct {
	Code        string          `json:"code" binding:"required,plan_code"`
	Name        string          `json:"name" binding:"required"`
	Type        PlanType        `json:"type" binding:"required,oneof=free monthly yearly"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	SiteLimit   *int64          `json:"site_limit"`
	AICallLimit *int64          `json:"ai_call_limit"`
}

var (
	ErrPlanNotFound          = errors.New("plan_not_found")
	ErrFreePlanNotConfigured = errors.New("free_plan_not_configured")
	ErrInvalidCode           = errors.New("invalid_code")
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidType           = errors.New("invalid_plan_type")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidLimit          = errors.New("invalid_limit")
	ErrPlanCodeTaken         = errors.New("plan_code_taken")
)
