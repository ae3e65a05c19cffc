package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/migration"
	"github.com/smallbiznis/sitebill/internal/observability"
	"github.com/smallbiznis/sitebill/internal/server"
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

		// Domain services and routes
		server.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
