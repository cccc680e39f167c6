package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/inferbill/inferbill/internal/clock"
	"github.com/inferbill/inferbill/internal/config"
	"github.com/inferbill/inferbill/internal/costing"
	"github.com/inferbill/inferbill/internal/estimate"
	"github.com/inferbill/inferbill/internal/ledger"
	"github.com/inferbill/inferbill/internal/logger"
	"github.com/inferbill/inferbill/internal/migration"
	"github.com/inferbill/inferbill/internal/notifier"
	"github.com/inferbill/inferbill/internal/observability/metrics"
	"github.com/inferbill/inferbill/internal/pricing"
	"github.com/inferbill/inferbill/internal/proration"
	"github.com/inferbill/inferbill/internal/ratelimit"
	"github.com/inferbill/inferbill/internal/server"
	"github.com/inferbill/inferbill/internal/webhook"
	"github.com/inferbill/inferbill/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing domains
		pricing.Module,
		costing.Module,
		ledger.Module,
		proration.Module,
		webhook.Module,
		notifier.Module,
		estimate.Module,

		// Transport
		ratelimit.Module,
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
