package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/storage"
)

// Config options for the S3 backend
type Config struct {
	Region       string // AWS region
	Bucket       string // S3 bucket name
	Endpoint     string // Optional custom endpoint for S3-compatible services
	UsePathStyle bool   // Use path-style addressing (default: false)

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the shardmedia.Transfer
// interface. Each account authenticates with its own static credential
// (login as access key id, password as secret) and writes under a key
// prefix named after its login.
type Backend struct {
	config Config

	mu      sync.Mutex
	clients map[string]*s3.Client // keyed by login
}

// New creates a new S3-compatible transfer backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	return &Backend{
		config:  config,
		clients: make(map[string]*s3.Client),
	}, nil
}

// client returns the S3 client for an account credential
func (b *Backend) client(ctx context.Context, cred shardmedia.Credential) (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[cred.Login]; ok {
		return c, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(b.config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cred.Login,
			cred.Password,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Configure S3 client options
	var s3Options []func(*s3.Options)

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	if b.config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(b.config.Endpoint)
			o.UsePathStyle = b.config.UsePathStyle
		})
	}

	c := s3.NewFromConfig(awsCfg, s3Options...)

	// Create bucket if requested
	if b.config.CreateBucketIfNotExist {
		if err := b.createBucketIfNotExists(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	b.clients[cred.Login] = c
	return c, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context, c *s3.Client) error {
	_, err := c.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.config.Bucket),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) && !strings.Contains(err.Error(), "BadRequest") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.config.Bucket),
	}

	// Add location constraint for regions other than us-east-1
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = c.CreateBucket(ctx, createInput)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
				return nil
			}
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// objectKey scopes a remote path to the account's prefix
func objectKey(login string, elem ...string) string {
	return storage.Key(append([]string{login}, elem...)...)
}

// Put uploads every local file with the multipart upload manager
func (b *Backend) Put(ctx context.Context, cred shardmedia.Credential, localPath, remotePath string) error {
	files, err := storage.LocalFiles(localPath)
	if err != nil {
		return &shardmedia.StorageError{Backend: "s3", Account: cred.Login, Key: localPath, Op: "put", Err: err}
	}

	c, err := b.client(ctx, cred)
	if err != nil {
		return &shardmedia.StorageError{Backend: "s3", Account: cred.Login, Op: "put", Err: err}
	}
	uploader := manager.NewUploader(c)

	for _, f := range files {
		key := objectKey(cred.Login, remotePath, f.Rel)
		if err := b.upload(ctx, uploader, f.Path, key); err != nil {
			return &shardmedia.StorageError{Backend: "s3", Account: cred.Login, Key: key, Op: "put", Err: err}
		}
	}
	return nil
}

func (b *Backend) upload(ctx context.Context, uploader *manager.Uploader, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.config.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Get returns the object body, which streams from the network as it is read
func (b *Backend) Get(ctx context.Context, cred shardmedia.Credential, remoteName string) (io.ReadCloser, error) {
	key := objectKey(cred.Login, remoteName)

	c, err := b.client(ctx, cred)
	if err != nil {
		return nil, &shardmedia.StorageError{Backend: "s3", Account: cred.Login, Key: key, Op: "get", Err: err}
	}

	result, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			err = shardmedia.ErrObjectNotFound
		}
		return nil, &shardmedia.StorageError{Backend: "s3", Account: cred.Login, Key: key, Op: "get", Err: err}
	}
	return result.Body, nil
}

// isNotFound recognizes missing keys and buckets, including the bare
// error codes MinIO returns.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
