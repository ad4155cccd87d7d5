package app

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{
		"TELEGRAM_TOKEN": "token",
		"ETH_RPC_URL":    "https://forno.celo.org",
	}})
	require.NoError(t, err)
	require.Equal(t, "token", cfg.TelegramToken)
	require.Empty(t, cfg.PostgresURL)
	require.Equal(t, 100, cfg.MaxRecords)
	require.Equal(t, 30*24*time.Hour, cfg.Retention)
	require.Equal(t, uint64(12), cfg.ConfirmTarget)
	require.Equal(t, "average", cfg.DefaultTier)
	require.Equal(t, "json", cfg.StoreCodec)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{
		"TELEGRAM_TOKEN":   "token",
		"ETH_RPC_URL":      "https://forno.celo.org",
		"POSTGRES_URL":     "postgres://localhost/paytrack",
		"STORE_CODEC":      "cbor",
		"MAX_RECORDS":      "250",
		"CONFIRM_INTERVAL": "500ms",
		"FEE_REFRESH":      "1m",
		"RPC_RPS":          "0",
	}})
	require.NoError(t, err)
	require.Equal(t, 250, cfg.MaxRecords)
	require.Equal(t, 500*time.Millisecond, cfg.ConfirmInterval)
	require.Equal(t, time.Minute, cfg.FeeRefresh)
	require.Equal(t, "cbor", cfg.StoreCodec)
	require.Zero(t, cfg.RPCRPS)
}

func TestParseConfig_Required(t *testing.T) {
	_, err := parseConfig(env.Options{Environment: map[string]string{"ETH_RPC_URL": "x"}})
	require.Error(t, err)

	_, err = parseConfig(env.Options{Environment: map[string]string{
		"TELEGRAM_TOKEN": "token",
		"ETH_RPC_URL":    "x",
		"MAX_RECORDS":    "0",
	}})
	require.Error(t, err)
}
