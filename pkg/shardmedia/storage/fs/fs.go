package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/storage"
)

// Backend is a filesystem implementation of the shardmedia.Transfer
// interface. Each account login gets its own directory under BaseDir.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory holding one directory per account
}

// New creates a new filesystem transfer backend
func New(config Config) (*Backend, error) {
	// Validate and create base directory if it doesn't exist
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

func (b *Backend) path(cred shardmedia.Credential, elem ...string) (string, error) {
	if cred.Login == "" {
		return "", errors.New("account login is required")
	}
	key := storage.Key(append([]string{cred.Login}, elem...)...)
	return filepath.Join(b.baseDir, filepath.FromSlash(key)), nil
}

// Put copies localPath into the account's remotePath directory
func (b *Backend) Put(ctx context.Context, cred shardmedia.Credential, localPath, remotePath string) error {
	files, err := storage.LocalFiles(localPath)
	if err != nil {
		return &shardmedia.StorageError{Backend: "fs", Account: cred.Login, Key: localPath, Op: "put", Err: err}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := b.path(cred, remotePath, f.Rel)
		if err != nil {
			return err
		}
		if err := copyFile(f.Path, dst); err != nil {
			return &shardmedia.StorageError{Backend: "fs", Account: cred.Login, Key: f.Rel, Op: "put", Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	// Create directory structure if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// Get opens the file stored at remoteName
func (b *Backend) Get(ctx context.Context, cred shardmedia.Credential, remoteName string) (io.ReadCloser, error) {
	p, err := b.path(cred, remoteName)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, &shardmedia.StorageError{Backend: "fs", Account: cred.Login, Key: remoteName, Op: "get", Err: shardmedia.ErrObjectNotFound}
	} else if err != nil {
		return nil, &shardmedia.StorageError{Backend: "fs", Account: cred.Login, Key: remoteName, Op: "get", Err: err}
	}
	return file, nil
}
