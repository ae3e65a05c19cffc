package usage

import (
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"github.com/smallbiznis/sitebill/internal/usage/domain"
	"github.com/smallbiznis/sitebill/internal/usage/repository"
	"github.com/smallbiznis/sitebill/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) subscriptiondomain.UsageResetter { return svc }),
)
