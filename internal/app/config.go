package app

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_TOKEN,required"`
	EthRPCURL     string `env:"ETH_RPC_URL,required"`
	// empty keeps records in memory only
	PostgresURL string `env:"POSTGRES_URL"`
	StoreCodec  string `env:"STORE_CODEC"`

	MaxRecords        int           `env:"MAX_RECORDS"`
	Retention         time.Duration `env:"RETENTION"`
	RetentionSchedule string        `env:"RETENTION_SCHEDULE"`

	ReceiptTimeout  time.Duration `env:"RECEIPT_TIMEOUT"`
	ReceiptPoll     time.Duration `env:"RECEIPT_POLL"`
	ConfirmInterval time.Duration `env:"CONFIRM_INTERVAL"`
	ConfirmTarget   uint64        `env:"CONFIRM_TARGET"`
	ConfirmCeiling  time.Duration `env:"CONFIRM_CEILING"`

	FeeRefresh   time.Duration `env:"FEE_REFRESH"`
	FeeFreshness time.Duration `env:"FEE_FRESHNESS"`
	DefaultTier  string        `env:"DEFAULT_TIER"`
	TiersFile    string        `env:"TIERS_FILE"`

	RPCRPS         int           `env:"RPC_RPS"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT"`
	ExplorerURL    string        `env:"EXPLORER_URL"`
	MetricsAddr    string        `env:"METRICS_ADDR"`
	LogLevel       string        `env:"LOG_LEVEL"`
	NotifyBuffer   int           `env:"NOTIFY_BUFFER"`
}

func defaultConfig() Config {
	return Config{
		StoreCodec:        "json",
		MaxRecords:        100,
		Retention:         30 * 24 * time.Hour,
		RetentionSchedule: "@daily",
		ReceiptTimeout:    2 * time.Minute,
		ReceiptPoll:       2 * time.Second,
		ConfirmInterval:   3 * time.Second,
		ConfirmTarget:     12,
		ConfirmCeiling:    5 * time.Minute,
		FeeRefresh:        15 * time.Second,
		FeeFreshness:      60 * time.Second,
		DefaultTier:       "average",
		RPCRPS:            20,
		ConnectTimeout:    30 * time.Second,
		MetricsAddr:       ":9090",
		LogLevel:          "info",
		NotifyBuffer:      4096,
	}
}

func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, relying on environment variables")
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	config := defaultConfig()

	if err := env.ParseWithOptions(&config, opts); err != nil {
		return Config{}, err
	}
	if config.NotifyBuffer < 0 || config.MaxRecords <= 0 {
		return Config{}, fmt.Errorf("MAX_RECORDS must be positive and NOTIFY_BUFFER non-negative")
	}
	return config, nil
}
