package payment

import (
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/payment/adapters"
	"github.com/smallbiznis/sitebill/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/sitebill/internal/payment/service"
	"github.com/smallbiznis/sitebill/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*adapters.Registry, error) {
		stripeAdapter, err := stripe.New(cfg.Stripe, log)
		if err != nil {
			return nil, err
		}
		return adapters.NewRegistry(stripeAdapter), nil
	}),
	fx.Provide(func(registry *adapters.Registry) (paymentdomain.Gateway, error) {
		return registry.Gateway()
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
