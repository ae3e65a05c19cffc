package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/lock"
	"github.com/smallbiznis/sitebill/internal/migration"
	"github.com/smallbiznis/sitebill/internal/observability"
	"github.com/smallbiznis/sitebill/internal/scheduler"
	"github.com/smallbiznis/sitebill/internal/server"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
)

// A single process serving the API and running the renewal sweep.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Functional Domains
		server.Module,
		migration.Module,
		scheduler.Module,
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
