package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/audit/masking"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	if entry.AccountID == 0 {
		return domain.ErrInvalidAccount
	}
	if entry.PlanID == 0 {
		return domain.ErrInvalidPlan
	}
	if !entry.Action.Valid() {
		return domain.ErrInvalidAction
	}
	if !entry.PaymentStatus.Valid() {
		return domain.ErrInvalidPaymentStatus
	}
	if (entry.PaymentReference == nil) != (entry.PaymentReferenceKind == nil) {
		return domain.ErrInvalidReference
	}

	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	entry.Currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
	if entry.Metadata != nil {
		entry.Metadata = datatypes.JSONMap(masking.MaskSensitive(entry.Metadata))
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", string(entry.Action)),
			zap.String("account_id", entry.AccountID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) UpdatePaymentStatusByReference(ctx context.Context, tx *gorm.DB, paymentReference string, status domain.PaymentStatus) (int64, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return 0, domain.ErrInvalidReference
	}
	if !status.Valid() {
		return 0, domain.ErrInvalidPaymentStatus
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.UpdatePaymentStatusByReference(ctx, tx, paymentReference, status)
}

func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID, req domain.ListRequest) (domain.ListResponse, error) {
	if accountID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidAccount
	}
	req.AccountID = &accountID
	return s.List(ctx, req)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	action := domain.Action(strings.ToLower(strings.TrimSpace(req.Action)))
	if action != "" && !action.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidAction
	}

	var cursor *domain.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := decodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		AccountID: req.AccountID,
		Action:    action,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Entry) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := domain.ListResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func decodeCursor(token string) (*domain.Cursor, error) {
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidPageToken
	}
	return &domain.Cursor{ID: id, CreatedAt: createdAt}, nil
}
