package migration

import (
	"context"

	"github.com/smallbiznis/sitebill/internal/config"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	"github.com/smallbiznis/sitebill/internal/seed"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger, plans plandomain.Service) error {
		log = log.Named("migration")

		if cfg.DBType == db.DialectPostgres {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			res, err := Apply(sqlDB)
			if err != nil {
				return err
			}
			if res.Changed() {
				log.Info("schema migrated", zap.Uint("from_version", res.From), zap.Uint("to_version", res.To))
			} else {
				log.Debug("schema up to date", zap.Uint("version", res.To))
			}
		} else {
			log.Warn("embedded migrations target postgres, skipping", zap.String("db_type", cfg.DBType))
		}

		if !cfg.SeedPlanCatalog {
			return nil
		}
		created, err := seed.EnsurePlanCatalog(context.Background(), plans, cfg.DefaultCurrency)
		if err != nil {
			return err
		}
		if created > 0 {
			log.Info("seeded plan catalog", zap.Int("plans_created", created))
		}
		return nil
	}),
)
