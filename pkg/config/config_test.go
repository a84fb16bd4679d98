package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.True(t, cfg.Settlement.AtomicTransactions)
	require.Equal(t, 2*time.Minute, cfg.Reauth.TokenTTL)
	require.Equal(t, int64(100000), cfg.Settlement.DefaultMinimumPayout)
	require.Equal(t, 180*24*time.Hour, cfg.Settlement.TrustReviewPeriod)
	require.Equal(t, "audit", cfg.Audit.Queue)
	require.True(t, cfg.Authz.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
APP_ENV: staging
SETTLEMENT:
  ATOMIC_TRANSACTIONS: false
  LOCK_WAIT: 2s
  CURRENCIES:
    - CODE: NGN
      SYMBOL: "₦"
      MINIMUM_PAYOUT: 500000
    - CODE: USD
      SYMBOL: "$"
      MINIMUM_PAYOUT: 5000
AUTHZ:
  OPERATORS:
    - OPERATOR_ID: Op_7
      ROLES: [payout_officer]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, "staging", cfg.AppEnv)
	require.False(t, cfg.Settlement.AtomicTransactions)
	require.Equal(t, 2*time.Second, cfg.Settlement.LockWait)
	require.Len(t, cfg.Settlement.Currencies, 2)
	require.Equal(t, "NGN", cfg.Settlement.Currencies[0].Code)
	require.Equal(t, int64(500000), cfg.Settlement.Currencies[0].MinimumPayout)
	require.Len(t, cfg.Authz.Operators, 1)
	require.Equal(t, "Op_7", cfg.Authz.Operators[0].OperatorID)
	require.Equal(t, []string{"payout_officer"}, cfg.Authz.Operators[0].Roles)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REAUTH_STORE", "memory")
	t.Setenv("SETTLEMENT_DEFAULT_MINIMUM_PAYOUT", "2500")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Reauth.Store)
	require.Equal(t, int64(2500), cfg.Settlement.DefaultMinimumPayout)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("APP_ENV: [unclosed"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}
