// Package config assembles the shardmedia components from one Config.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/gateway"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
	"github.com/tendant/shardmedia/pkg/shardmedia/pipeline"
	"github.com/tendant/shardmedia/pkg/shardmedia/repo/memory"
	repopg "github.com/tendant/shardmedia/pkg/shardmedia/repo/postgres"
	reposqlite "github.com/tendant/shardmedia/pkg/shardmedia/repo/sqlite"
	fsstorage "github.com/tendant/shardmedia/pkg/shardmedia/storage/fs"
	"github.com/tendant/shardmedia/pkg/shardmedia/storage/megatools"
	memorystorage "github.com/tendant/shardmedia/pkg/shardmedia/storage/memory"
	s3storage "github.com/tendant/shardmedia/pkg/shardmedia/storage/s3"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Root:        "./data",
		TransferURL: "megatools://",
		RemoteRoot:  gateway.DefaultRemoteRoot,
	}
}

// Config represents the configuration shared by the uploader, the gateway
// and the admin tool.
type Config struct {
	Root string // Layout root

	// Master secret, base64 encoded
	MasterKey   string
	MasterNonce string

	// Metadata store: "sqlite://path", "postgres://...", "memory".
	// Empty means sqlite at <Root>/database.db.
	DatabaseURL string
	DBSchema    string // Postgres schema to use

	// Transfer backend: "megatools://[binary]", "s3://bucket?region=&endpoint=&path_style=",
	// "file:///dir", "memory://"
	TransferURL string

	RemoteRoot   string
	CacheDir     string // gateway cache; empty means Root
	APIKeySHA256 string
	FetchTimeout time.Duration
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root is required")
	}
	if c.MasterKey == "" || c.MasterNonce == "" {
		return errors.New("master key and master nonce are required")
	}
	if _, err := keywrap.ParseMasterSecret(c.MasterKey, c.MasterNonce); err != nil {
		return fmt.Errorf("invalid master secret: %w", err)
	}
	if _, _, err := c.databaseTarget(); err != nil {
		return err
	}
	if _, err := parseTransferURL(c.TransferURL); err != nil {
		return err
	}
	if c.FetchTimeout < 0 {
		return errors.New("fetch timeout cannot be negative")
	}
	if !strings.HasPrefix(c.RemoteRoot, "/") {
		return fmt.Errorf("remote root must be absolute, got %q", c.RemoteRoot)
	}
	return nil
}

// Layout returns the filesystem layout rooted at Root.
func (c *Config) Layout() shardmedia.Layout {
	return shardmedia.Layout{Root: c.Root}
}

// ResolvedCacheDir is the directory the gateway serves its fast path from.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return c.Root
}

// BuildWrapper creates the key wrapper from the master secret
func (c *Config) BuildWrapper() (*keywrap.Wrapper, error) {
	secret, err := keywrap.ParseMasterSecret(c.MasterKey, c.MasterNonce)
	if err != nil {
		return nil, err
	}
	return keywrap.New(secret)
}

// databaseTarget returns the store type and its connection string.
func (c *Config) databaseTarget() (string, string, error) {
	dbURL := c.DatabaseURL
	switch {
	case dbURL == "":
		return "sqlite", c.Layout().DatabasePath(), nil
	case dbURL == "memory":
		return "memory", "", nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		path := strings.TrimPrefix(dbURL, "sqlite://")
		if path == "" {
			return "", "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return "sqlite", path, nil
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "postgres", dbURL, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'sqlite://...' or 'postgres://...')", dbURL)
}

// BuildRepository opens the metadata store and ensures its schema. The
// returned function releases it.
func (c *Config) BuildRepository(ctx context.Context) (shardmedia.Repository, func(), error) {
	kind, target, err := c.databaseTarget()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		repo, err := reposqlite.Open(ctx, target)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		pool, err := repopg.NewPool(ctx, target, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		repo := repopg.NewWithPool(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres store: %w", err)
		}
		return repo, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported database type: %s", kind)
}

// TransferConfig is a parsed TRANSFER_URL.
type TransferConfig struct {
	Type    string // "megatools", "s3", "fs", "memory"
	Binary  string
	BaseDir string
	S3      s3storage.Config
}

func parseTransferURL(raw string) (TransferConfig, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return TransferConfig{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return TransferConfig{}, fmt.Errorf("invalid TRANSFER_URL: %w", err)
	}

	switch u.Scheme {
	case "megatools":
		return TransferConfig{Type: "megatools", Binary: u.Host + u.Path}, nil
	case "file":
		if u.Path == "" {
			return TransferConfig{}, errors.New("filesystem path cannot be empty in TRANSFER_URL")
		}
		return TransferConfig{Type: "fs", BaseDir: u.Path}, nil
	case "s3":
		if u.Host == "" {
			return TransferConfig{}, errors.New("S3 bucket name cannot be empty in TRANSFER_URL")
		}
		q := u.Query()
		cfg := s3storage.Config{
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if cfg.Region == "" {
			cfg.Region = "us-east-1"
		}
		if v := q.Get("path_style"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return TransferConfig{}, fmt.Errorf("invalid path_style in TRANSFER_URL: %w", err)
			}
			cfg.UsePathStyle = b
		}
		if v := q.Get("create_bucket"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return TransferConfig{}, fmt.Errorf("invalid create_bucket in TRANSFER_URL: %w", err)
			}
			cfg.CreateBucketIfNotExist = b
		}
		return TransferConfig{Type: "s3", S3: cfg}, nil
	}
	return TransferConfig{}, fmt.Errorf("unsupported TRANSFER_URL format: %s (use 'megatools://', 's3://...', 'file://...' or 'memory://')", raw)
}

// BuildTransfer creates the transfer backend named by TransferURL.
func (c *Config) BuildTransfer(logger *slog.Logger) (shardmedia.Transfer, error) {
	tc, err := parseTransferURL(c.TransferURL)
	if err != nil {
		return nil, err
	}
	switch tc.Type {
	case "memory":
		return memorystorage.New(), nil
	case "megatools":
		return megatools.New(megatools.Config{Binary: tc.Binary, Logger: logger}), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: tc.BaseDir})
	case "s3":
		return s3storage.New(tc.S3)
	}
	return nil, fmt.Errorf("unsupported transfer type: %s", tc.Type)
}

// BuildGateway creates a retrieval gateway from the configuration.
func (c *Config) BuildGateway(repo shardmedia.Repository, wrapper *keywrap.Wrapper, transfer shardmedia.Transfer, extra ...gateway.Option) (*gateway.Gateway, error) {
	opts := []gateway.Option{
		gateway.WithCacheDir(c.ResolvedCacheDir()),
		gateway.WithRemoteRoot(c.RemoteRoot),
		gateway.WithFetchTimeout(c.FetchTimeout),
	}
	return gateway.New(repo, wrapper, transfer, append(opts, extra...)...)
}

// BuildPipeline creates an upload pipeline from the configuration.
func (c *Config) BuildPipeline(repo shardmedia.Repository, wrapper *keywrap.Wrapper, transfer shardmedia.Transfer, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithCacheDir(c.ResolvedCacheDir()),
		pipeline.WithRemoteRoot(c.RemoteRoot),
	}
	return pipeline.New(repo, wrapper, transfer, c.Layout(), append(opts, extra...)...)
}
