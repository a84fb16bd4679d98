package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/db"
	"ticketing-settlement/pkg/gen"
	"ticketing-settlement/pkg/hashistack/secretmanager"
	"ticketing-settlement/pkg/logger"
	"ticketing-settlement/pkg/task"
	"ticketing-settlement/services/audit"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		task.Server,
		audit.Worker,
		fx.Invoke(audit.AutoMigrate),
		fxLogger,
	}

	if os.Getenv("VAULT_ADDR") != "" {
		opts = append(opts, secretmanager.Module)
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
