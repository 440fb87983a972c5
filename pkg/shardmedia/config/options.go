package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// WithRoot sets the layout root
func WithRoot(root string) Option {
	return func(c *Config) error {
		if root == "" {
			return fmt.Errorf("root cannot be empty")
		}
		c.Root = root
		return nil
	}
}

// WithMasterSecret sets the raw master key and nonce
func WithMasterSecret(key, nonce []byte) Option {
	return func(c *Config) error {
		c.MasterKey = base64.StdEncoding.EncodeToString(key)
		c.MasterNonce = base64.StdEncoding.EncodeToString(nonce)
		return nil
	}
}

// WithDatabase sets the metadata store URL
func WithDatabase(url string) Option {
	return func(c *Config) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) error {
		c.DBSchema = schema
		return nil
	}
}

// WithTransfer sets the transfer backend URL
func WithTransfer(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("transfer URL cannot be empty")
		}
		c.TransferURL = url
		return nil
	}
}

// WithCacheDir sets the gateway cache directory
func WithCacheDir(dir string) Option {
	return func(c *Config) error {
		c.CacheDir = dir
		return nil
	}
}

// WithRemoteRoot sets the remote upload directory
func WithRemoteRoot(root string) Option {
	return func(c *Config) error {
		c.RemoteRoot = root
		return nil
	}
}

// WithAPIKeySHA256 enables API key authentication on the gateway
func WithAPIKeySHA256(sum string) Option {
	return func(c *Config) error {
		c.APIKeySHA256 = sum
		return nil
	}
}

// WithFetchTimeout bounds every remote fetch made by the gateway
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.FetchTimeout = d
		return nil
	}
}
