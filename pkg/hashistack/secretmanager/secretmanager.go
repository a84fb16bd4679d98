package secretmanager

import (
	"errors"
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module supplies the vault client config.LoadConfig overlays secrets from.
// Only wire it when VAULT_ADDR is set.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

const requestTimeout = 10 * time.Second

// ProvideVault builds a client from the VAULT_* environment. It does not
// contact vault; the first secret read does.
func ProvideVault() (*vault.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil, errors.New("secretmanager: VAULT_ADDR is not set")
	}

	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		return nil, err
	}

	zap.L().Info("vault client configured", zap.String("addr", addr))
	return client, nil
}
