package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	pagination.Pagination
	Action    string        `form:"action"`
	AccountID *snowflake.ID `form:"-"`
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"audit_logs"`
}

// Service writes through the caller's transaction so audit rows commit or
// roll back with the transition that produced them.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry *Entry) error
	UpdatePaymentStatusByReference(ctx context.Context, tx *gorm.DB, paymentReference string, status PaymentStatus) (int64, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID, req ListRequest) (ListResponse, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidAction        = errors.New("invalid_action")
	ErrInvalidPaymentStatus = errors.New("invalid_payment_status")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidReference     = errors.New("invalid_payment_reference")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)
