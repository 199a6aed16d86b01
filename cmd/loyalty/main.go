package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"venue-loyalty/internal/httpapi"
	"venue-loyalty/pkg/config"
	"venue-loyalty/pkg/db"
	"venue-loyalty/pkg/logger"
	"venue-loyalty/pkg/profiling"
	"venue-loyalty/pkg/server"
	"venue-loyalty/services/catalog"
	"venue-loyalty/services/checkin"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/redemption"
	"venue-loyalty/services/settings"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		profiling.Module,
		db.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		settings.Module,
		ledger.Module,
		checkin.Module,
		customer.Module,
		catalog.Module,
		redemption.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
