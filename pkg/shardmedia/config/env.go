package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig lists the supported environment variables.
//
//	SHARD_ROOT          - Layout root (default: ./data)
//	SHARD_MASTER_KEY    - base64 master key (16 bytes)
//	SHARD_MASTER_NONCE  - base64 master nonce (16 bytes)
//	DATABASE_URL        - "sqlite://path", "postgres://...", "memory"
//	                      (default: sqlite at $SHARD_ROOT/database.db)
//	DB_SCHEMA           - Postgres schema
//	TRANSFER_URL        - "megatools://", "s3://bucket?region=..", "file:///dir", "memory://"
//	REMOTE_ROOT         - Remote upload directory (default: /Root)
//	CACHE_DIR           - Gateway fast-path cache (default: $SHARD_ROOT)
//	API_KEY_SHA256      - Enables API key authentication on the gateway
//	FETCH_TIMEOUT       - Remote fetch bound, e.g. "30s"
type envConfig struct {
	Root         string        `env:"SHARD_ROOT"`
	MasterKey    string        `env:"SHARD_MASTER_KEY"`
	MasterNonce  string        `env:"SHARD_MASTER_NONCE"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	DBSchema     string        `env:"DB_SCHEMA"`
	TransferURL  string        `env:"TRANSFER_URL"`
	RemoteRoot   string        `env:"REMOTE_ROOT"`
	CacheDir     string        `env:"CACHE_DIR"`
	APIKeySHA256 string        `env:"API_KEY_SHA256"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT"`
}

// WithEnv applies environment variable overrides. Unset variables leave
// the current value untouched.
func WithEnv() Option {
	return func(c *Config) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		setString(&c.Root, env.Root)
		setString(&c.MasterKey, env.MasterKey)
		setString(&c.MasterNonce, env.MasterNonce)
		setString(&c.DatabaseURL, env.DatabaseURL)
		setString(&c.DBSchema, env.DBSchema)
		setString(&c.TransferURL, env.TransferURL)
		setString(&c.RemoteRoot, env.RemoteRoot)
		setString(&c.CacheDir, env.CacheDir)
		setString(&c.APIKeySHA256, env.APIKeySHA256)
		if env.FetchTimeout != 0 {
			c.FetchTimeout = env.FetchTimeout
		}
		return nil
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
