package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/clock"
	"github.com/fieldscope/fieldscope/internal/config"
	"github.com/fieldscope/fieldscope/internal/logger"
	"github.com/fieldscope/fieldscope/internal/migration"
	"github.com/fieldscope/fieldscope/internal/quality"
	"github.com/fieldscope/fieldscope/internal/scheduler"
	"github.com/fieldscope/fieldscope/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the scheduler
		quality.Module,
		scheduler.Module,
		migration.Module,

		// No server module: this binary only runs the periodic jobs.
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
