package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	"github.com/fieldscope/fieldscope/internal/config"
	"github.com/fieldscope/fieldscope/internal/enrichment"
	"github.com/fieldscope/fieldscope/internal/imagery"
	"github.com/fieldscope/fieldscope/internal/logger"
	"github.com/fieldscope/fieldscope/internal/measurement"
	"github.com/fieldscope/fieldscope/internal/migration"
	"github.com/fieldscope/fieldscope/internal/quality"
	"github.com/fieldscope/fieldscope/internal/scheduler"
	"github.com/fieldscope/fieldscope/internal/server"
	"github.com/fieldscope/fieldscope/internal/tier"
	"github.com/fieldscope/fieldscope/internal/usage"
	"github.com/fieldscope/fieldscope/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Functional domains
		tier.Module,
		usage.Module,
		imagery.Module,
		enrichment.Module,
		measurement.Module,
		quality.Module,

		scheduler.Module,
		migration.Module,
		server.Module,
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
