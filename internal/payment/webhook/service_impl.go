package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/clock"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	"github.com/smallbiznis/sitebill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	AuditSvc   auditdomain.Service
	Adapters   *adapters.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	auditSvc   auditdomain.Service
	adapters   *adapters.Registry
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Reconciler {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		adapters:   p.Adapters,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook verifies a raw delivery with the named provider and hands
// the normalized event to HandleVerifiedEvent.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	verifier, err := s.adapters.Get(provider)
	if err != nil {
		return "", err
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}

	event, err := verifier.VerifyEvent(payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.log.Warn("rejected gateway webhook", zap.String("provider", provider), zap.Error(err))
		}
		return "", err
	}
	event.Provider = provider
	if event.Payload == nil {
		event.Payload = payload
	}
	return s.HandleVerifiedEvent(ctx, event)
}

func (s *Service) HandleVerifiedEvent(ctx context.Context, event *paymentdomain.GatewayEvent) (paymentdomain.Outcome, error) {
	if event == nil {
		return "", paymentdomain.ErrInvalidEvent
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.Reference = strings.TrimSpace(event.Reference)
	if event.ID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}
	if event.Provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}

	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("reference", event.Reference),
	)

	target, known := targetStatus(event.Type)
	if !known {
		log.Info("ignoring unmodelled gateway event")
		s.recordMetric(ctx, event, paymentdomain.OutcomeIgnored)
		return paymentdomain.OutcomeIgnored, nil
	}

	now := s.clock.Now()
	var outcome paymentdomain.Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		received := paymentdomain.EventRecord{
			ID:              s.genID.Generate(),
			Provider:        event.Provider,
			ProviderEventID: event.ID,
			EventType:       event.Type,
			ReceivedAt:      now,
		}
		if event.Reference != "" {
			ref := event.Reference
			received.Reference = &ref
		}
		if json.Valid(event.Payload) {
			received.Payload = datatypes.JSON(event.Payload)
		}

		inserted, err := s.repo.InsertEvent(ctx, tx, &received)
		if err != nil {
			return err
		}
		stored := &received
		if !inserted {
			stored, err = s.repo.FindEvent(ctx, tx, event.Provider, event.ID)
			if err != nil {
				return err
			}
			if stored == nil {
				return paymentdomain.ErrInvalidEvent
			}
			if stored.ProcessedAt != nil {
				outcome = paymentdomain.OutcomeDuplicate
				return nil
			}
		}

		outcome, err = s.apply(ctx, tx, event.Reference, target, now)
		if err != nil {
			return err
		}
		if outcome == paymentdomain.OutcomeUnmatched {
			// the local pending row may not have committed yet; keep the
			// event open so a redelivery can still settle it
			return s.repo.SetOutcome(ctx, tx, stored.ID, outcome)
		}
		return s.repo.MarkProcessed(ctx, tx, stored.ID, outcome, now)
	})
	if err != nil {
		log.Error("failed to reconcile gateway event", zap.Error(err))
		return "", err
	}

	switch outcome {
	case paymentdomain.OutcomeUnmatched:
		log.Warn("gateway event matched no transaction", zap.Error(paymentdomain.ErrReconciliationKeyNotFound))
	case paymentdomain.OutcomeDuplicate:
		log.Info("gateway event already processed")
	default:
		log.Info("gateway event reconciled",
			zap.String("outcome", string(outcome)),
			zap.String("status", string(target)),
		)
	}
	s.recordMetric(ctx, event, outcome)
	return outcome, nil
}

// apply sets the transaction and every audit row sharing its reference to
// target. Values are assigned, never incremented, so replays converge.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, ref string, target paymentdomain.TransactionStatus, now time.Time) (paymentdomain.Outcome, error) {
	if ref == "" {
		return paymentdomain.OutcomeUnmatched, nil
	}

	txn, err := s.repo.FindTransactionByReferenceForUpdate(ctx, tx, ref)
	if err != nil {
		return "", err
	}
	if txn == nil {
		return paymentdomain.OutcomeUnmatched, nil
	}
	stored, err := reference.Restore(string(txn.ReferenceKind), txn.TransactionReference)
	if err != nil || !stored.Reconcilable() {
		return paymentdomain.OutcomeUnmatched, nil
	}

	changed := false
	if txn.Status != target {
		if err := s.repo.UpdateTransactionStatus(ctx, tx, txn.ID, target, now); err != nil {
			return "", err
		}
		changed = true
	}

	updated, err := s.auditSvc.UpdatePaymentStatusByReference(ctx, tx, ref, auditdomain.PaymentStatus(target))
	if err != nil {
		return "", err
	}
	if updated > 0 {
		changed = true
	}

	if !changed {
		return paymentdomain.OutcomeUnchanged, nil
	}
	return paymentdomain.OutcomeApplied, nil
}

func (s *Service) recordMetric(ctx context.Context, event *paymentdomain.GatewayEvent, outcome paymentdomain.Outcome) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type, string(outcome))
}

func targetStatus(eventType string) (paymentdomain.TransactionStatus, bool) {
	switch eventType {
	case paymentdomain.EventTypeChargeSucceeded:
		return paymentdomain.TransactionStatusCompleted, true
	case paymentdomain.EventTypeChargeFailed:
		return paymentdomain.TransactionStatusFailed, true
	default:
		return "", false
	}
}
