package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/audit"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/lock"
	"github.com/smallbiznis/sitebill/internal/observability"
	"github.com/smallbiznis/sitebill/internal/payment"
	"github.com/smallbiznis/sitebill/internal/plan"
	"github.com/smallbiznis/sitebill/internal/scheduler"
	"github.com/smallbiznis/sitebill/internal/subscription"
	"github.com/smallbiznis/sitebill/internal/usage"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Domain services required by the sweep
		plan.Module,
		audit.Module,
		payment.Module,
		usage.Module,
		subscription.Module,

		// the sweep runs headless; the api binary owns http and migrations
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
