package reauth

import (
	"ticketing-settlement/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("reauth.service",
	fx.Provide(
		provideVerifier,
		provideStore,
		NewService,
	),
)

func provideVerifier(db *gorm.DB) Verifier {
	return NewCredentialVerifier(db)
}

type storeParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideStore(p storeParams) TokenStore {
	if p.Config.Reauth.Store == "memory" || p.Redis == nil {
		return NewMemoryStore()
	}
	return NewRedisStore(p.Redis)
}

// AutoMigrate creates the operator_credentials table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OperatorCredential{})
}
