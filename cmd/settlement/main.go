package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ticketing-settlement/pkg/authz"
	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/currency"
	"ticketing-settlement/pkg/db"
	"ticketing-settlement/pkg/featureflags"
	"ticketing-settlement/pkg/gen"
	"ticketing-settlement/pkg/hashistack/secretmanager"
	"ticketing-settlement/pkg/health"
	"ticketing-settlement/pkg/httpapi"
	"ticketing-settlement/pkg/lock"
	"ticketing-settlement/pkg/logger"
	"ticketing-settlement/pkg/otelcol"
	"ticketing-settlement/pkg/profiling"
	"ticketing-settlement/pkg/redis"
	"ticketing-settlement/pkg/sequence"
	"ticketing-settlement/pkg/server"
	"ticketing-settlement/pkg/task"
	"ticketing-settlement/services/audit"
	"ticketing-settlement/services/reauth"
	"ticketing-settlement/services/settlement"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		sequence.Module,
		lock.Module,
		currency.Module,
		featureflags.Module,
		authz.Module,
		otelcol.Module,
		profiling.Module,
		health.Module,
		httpapi.Module,
		audit.Module,
		reauth.Module,
		settlement.Module,
		fx.Invoke(migrate),
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
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
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func migrate(conn *gorm.DB) error {
	for _, fn := range []func(*gorm.DB) error{
		settlement.AutoMigrate,
		audit.AutoMigrate,
		reauth.AutoMigrate,
	} {
		if err := fn(conn); err != nil {
			zap.L().Error("failed to migrate", zap.Error(err))
			return err
		}
	}
	return nil
}
