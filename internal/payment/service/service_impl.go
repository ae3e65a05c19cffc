package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxListLimit = 100

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
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	if txn == nil {
		return nil
	}
	if txn.AccountID == 0 {
		return domain.ErrInvalidAccount
	}
	if txn.PlanID == 0 {
		return domain.ErrInvalidPlan
	}
	if txn.Amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	txn.Currency = strings.ToUpper(strings.TrimSpace(txn.Currency))
	if len(txn.Currency) != 3 {
		return domain.ErrInvalidCurrency
	}
	if !txn.Status.Valid() {
		return domain.ErrInvalidStatus
	}
	txn.TransactionReference = strings.TrimSpace(txn.TransactionReference)
	if txn.TransactionReference == "" {
		return domain.ErrInvalidReference
	}
	switch txn.ReferenceKind {
	case reference.KindGateway, reference.KindAdministrative, reference.KindSynthetic:
	default:
		return domain.ErrInvalidReference
	}

	now := s.clock.Now()
	if txn.ID == 0 {
		txn.ID = s.genID.Generate()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = txn.CreatedAt

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, accountID, id snowflake.ID) (*domain.Transaction, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	item, err := s.repo.FindTransaction(ctx, s.db, accountID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListTransactions(ctx, s.db, accountID, limit)
}
