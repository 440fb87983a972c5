// Package megatools transfers staged objects with the megatools command
// line client. Uploads use "megatools copy" for directories and
// "megatools put" for single files; fetches stream "megatools get" stdout.
package megatools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"sync"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

// DefaultBinary is looked up on PATH.
const DefaultBinary = "megatools"

// Config options for the megatools backend
type Config struct {
	Binary string       // megatools executable (default: megatools on PATH)
	Logger *slog.Logger // default: slog.Default()
}

// Backend is a shardmedia.Transfer that shells out to megatools.
type Backend struct {
	binary string
	logger *slog.Logger
}

// New creates a megatools backend. The binary is resolved lazily so a
// gateway serving only cached previews can start without it.
func New(config Config) *Backend {
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Backend{binary: config.Binary, logger: config.Logger}
}

func (b *Backend) command(ctx context.Context, sub string, cred shardmedia.Credential, args ...string) *exec.Cmd {
	full := append([]string{sub, "--username", cred.Login, "--password", cred.Password}, args...)
	return exec.CommandContext(ctx, b.binary, full...)
}

// Put uploads localPath into remotePath.
func (b *Backend) Put(ctx context.Context, cred shardmedia.Credential, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return &shardmedia.StorageError{Backend: "megatools", Account: cred.Login, Key: localPath, Op: "put", Err: err}
	}

	var cmd *exec.Cmd
	if info.IsDir() {
		cmd = b.command(ctx, "copy", cred, "--local", localPath, "--remote", remotePath)
	} else {
		cmd = b.command(ctx, "put", cred, "--path", remotePath, localPath)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	b.logger.InfoContext(ctx, "megatools upload", "account", cred.Login, "local", localPath, "remote", remotePath)
	if err := cmd.Run(); err != nil {
		return &shardmedia.StorageError{
			Backend: "megatools",
			Account: cred.Login,
			Key:     remotePath,
			Op:      "put",
			Err:     fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes())),
		}
	}
	return nil
}

// Get starts "megatools get --path - <remoteName>" and returns its stdout.
// A non-zero exit is reported by Read once stdout is drained, so a failed
// fetch is never mistaken for an empty object. Close kills the process if
// it is still running.
func (b *Backend) Get(ctx context.Context, cred shardmedia.Credential, remoteName string) (io.ReadCloser, error) {
	remote := path.Clean("/" + remoteName)
	cmd := b.command(ctx, "get", cred, "--path", "-", remote)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &shardmedia.StorageError{Backend: "megatools", Account: cred.Login, Key: remote, Op: "get", Err: err}
	}
	r := &processReader{cmd: cmd, stdout: stdout, account: cred.Login, key: remote}
	cmd.Stderr = &r.stderr

	if err := cmd.Start(); err != nil {
		return nil, &shardmedia.StorageError{Backend: "megatools", Account: cred.Login, Key: remote, Op: "get", Err: err}
	}
	return r, nil
}

type processReader struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	account string
	key     string

	once    sync.Once
	waitErr error
}

func (r *processReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if err == io.EOF {
		if werr := r.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *processReader) wait() error {
	r.once.Do(func() {
		if err := r.cmd.Wait(); err != nil {
			r.waitErr = &shardmedia.StorageError{
				Backend: "megatools",
				Account: r.account,
				Key:     r.key,
				Op:      "get",
				Err:     fmt.Errorf("%w: %v: %s", shardmedia.ErrFetchFailed, err, bytes.TrimSpace(r.stderr.Bytes())),
			}
		}
	})
	return r.waitErr
}

func (r *processReader) Close() error {
	r.once.Do(func() {
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Kill()
		}
		_ = r.cmd.Wait()
	})
	return nil
}
