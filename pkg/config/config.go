package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Currency struct {
	Code          string `mapstructure:"CODE"`
	Symbol        string `mapstructure:"SYMBOL"`
	MinimumPayout int64  `mapstructure:"MINIMUM_PAYOUT"`
}

// RolePolicy grants a role a set of settlement actions.
type RolePolicy struct {
	Role    string   `mapstructure:"ROLE"`
	Actions []string `mapstructure:"ACTIONS"`
}

type OperatorRoles struct {
	OperatorID string   `mapstructure:"OPERATOR_ID"`
	Roles      []string `mapstructure:"ROLES"`
}

type Authz struct {
	Enabled   bool            `mapstructure:"ENABLED"`
	Roles     []RolePolicy    `mapstructure:"ROLES"`
	Operators []OperatorRoles `mapstructure:"OPERATORS"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBNAME   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
		Metrics  bool   `mapstructure:"METRICS"`

		SlowQueryThreshold time.Duration `mapstructure:"SLOW_QUERY_THRESHOLD"`
		ConnectionPool     struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`
	Settlement struct {
		AtomicTransactions   bool          `mapstructure:"ATOMIC_TRANSACTIONS"`
		LockTTL              time.Duration `mapstructure:"LOCK_TTL"`
		LockWait             time.Duration `mapstructure:"LOCK_WAIT"`
		OperationTimeout     time.Duration `mapstructure:"OPERATION_TIMEOUT"`
		TrustReviewPeriod    time.Duration `mapstructure:"TRUST_REVIEW_PERIOD"`
		StalledAfter         time.Duration `mapstructure:"STALLED_AFTER"`
		SweepInterval        time.Duration `mapstructure:"SWEEP_INTERVAL"`
		DefaultMinimumPayout int64         `mapstructure:"DEFAULT_MINIMUM_PAYOUT"`
		AdvancesFlag         string        `mapstructure:"ADVANCES_FLAG"`
		Currencies           []Currency    `mapstructure:"CURRENCIES"`
	} `mapstructure:"SETTLEMENT"`
	Reauth struct {
		TokenTTL time.Duration `mapstructure:"TOKEN_TTL"`
		Store    string        `mapstructure:"STORE"`
	} `mapstructure:"REAUTH"`
	Audit struct {
		Async bool   `mapstructure:"ASYNC"`
		Queue string `mapstructure:"QUEUE"`
	} `mapstructure:"AUDIT"`
	Authz Authz `mapstructure:"AUTHZ"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "settlement")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "settlement")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.SLOW_QUERY_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 5*time.Minute)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
	v.SetDefault("SETTLEMENT.ATOMIC_TRANSACTIONS", true)
	v.SetDefault("SETTLEMENT.LOCK_TTL", 30*time.Second)
	v.SetDefault("SETTLEMENT.LOCK_WAIT", 5*time.Second)
	v.SetDefault("SETTLEMENT.OPERATION_TIMEOUT", 20*time.Second)
	v.SetDefault("SETTLEMENT.TRUST_REVIEW_PERIOD", 180*24*time.Hour)
	v.SetDefault("SETTLEMENT.STALLED_AFTER", 15*time.Minute)
	v.SetDefault("SETTLEMENT.SWEEP_INTERVAL", 10*time.Minute)
	v.SetDefault("SETTLEMENT.DEFAULT_MINIMUM_PAYOUT", 100000)
	v.SetDefault("SETTLEMENT.ADVANCES_FLAG", "settlement_advances")
	v.SetDefault("REAUTH.TOKEN_TTL", 2*time.Minute)
	v.SetDefault("REAUTH.STORE", "redis")
	v.SetDefault("AUDIT.ASYNC", true)
	v.SetDefault("AUDIT.QUEUE", "audit")
	v.SetDefault("AUTHZ.ENABLED", true)
}

// Load reads config.yaml from path (when present) and the environment.
// A missing file is not an error; every key has a default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := overlaySecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return cfg
}

func overlaySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	return nil
}
