package logger

import (
	"ticketing-settlement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger and installs it as zap.L(). Settlement code
// logs through the global, so this must run before any service starts.
// Every environment other than development logs JSON.
func New(p ConfigParams) *zap.Logger {
	if p.Cfg == nil {
		log := zap.Must(zap.NewDevelopment())
		zap.ReplaceGlobals(log)
		return log
	}

	log := Build(p.Cfg.AppEnv, p.Cfg.LogLevel).With(
		zap.String("env", p.Cfg.AppEnv),
		zap.String("service_name", p.Cfg.AppName),
		zap.String("service_version", p.Cfg.AppVersion),
	)
	zap.ReplaceGlobals(log)
	return log
}

// Build returns a console logger for development and a JSON logger at level
// everywhere else. An unknown level falls back to info.
func Build(env, level string) *zap.Logger {
	if env == "" || env == "development" {
		return zap.Must(zap.NewDevelopment())
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return zap.Must(cfg.Build())
}
